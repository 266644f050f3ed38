package blockstore

import (
	"bufio"
	"io"
	"os"

	"github.com/ssargent/bkeytree/pkg/codec"
)

// logReader provides sequential and random access to records in a log file.
type logReader struct {
	file   *os.File
	reader *bufio.Reader
	codec  *codec.RecordCodec
	offset int64
	config LogReaderConfig
}

func newLogReader(config LogReaderConfig) (*logReader, error) {
	file, err := os.Open(config.FilePath)
	if err != nil {
		return nil, err
	}

	if config.StartOffset > 0 {
		if _, err := file.Seek(config.StartOffset, 0); err != nil {
			file.Close()
			return nil, err
		}
	}

	return &logReader{
		file:   file,
		reader: bufio.NewReader(file),
		codec:  codec.NewRecordCodec(),
		offset: config.StartOffset,
		config: config,
	}, nil
}

// ReadNext reads the next record from the current offset.
func (r *logReader) ReadNext() (*codec.Record, error) {
	header := make([]byte, 20)
	n, err := io.ReadFull(r.reader, header)
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, io.EOF
		}
		return nil, err
	}
	r.offset += int64(n)

	keySize := int(header[4]) | int(header[5])<<8 | int(header[6])<<16 | int(header[7])<<24
	valueSize := int(header[8]) | int(header[9])<<8 | int(header[10])<<16 | int(header[11])<<24

	dataSize := keySize + valueSize
	data := make([]byte, dataSize)
	n, err = io.ReadFull(r.reader, data)
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, ErrCorruption
		}
		return nil, err
	}
	r.offset += int64(n)

	full := make([]byte, 20+dataSize)
	copy(full[0:20], header)
	copy(full[20:], data)

	record, err := r.codec.Decode(full)
	if err != nil {
		return nil, err
	}
	if err := record.Validate(); err != nil {
		return nil, ErrCorruption
	}
	return record, nil
}

// ReadAt reads a record at a specific offset, reopening the file to see
// any data appended since this reader was created.
func (r *logReader) ReadAt(offset int64) (*codec.Record, error) {
	file, err := os.Open(r.config.FilePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	if _, err := file.Seek(offset, 0); err != nil {
		return nil, err
	}

	header := make([]byte, 20)
	if _, err := io.ReadFull(file, header); err != nil {
		return nil, ErrCorruption
	}

	keySize := int(header[4]) | int(header[5])<<8 | int(header[6])<<16 | int(header[7])<<24
	valueSize := int(header[8]) | int(header[9])<<8 | int(header[10])<<16 | int(header[11])<<24

	data := make([]byte, keySize+valueSize)
	if _, err := io.ReadFull(file, data); err != nil {
		return nil, ErrCorruption
	}

	full := make([]byte, 20+len(data))
	copy(full[0:20], header)
	copy(full[20:], data)

	record, err := r.codec.Decode(full)
	if err != nil {
		return nil, err
	}
	if err := record.Validate(); err != nil {
		return nil, ErrCorruption
	}
	return record, nil
}

func (r *logReader) Seek(offset int64) error {
	if _, err := r.file.Seek(offset, 0); err != nil {
		return err
	}
	r.reader = bufio.NewReader(r.file)
	r.offset = offset
	return nil
}

func (r *logReader) Offset() int64 { return r.offset }

func (r *logReader) Iterator() RecordIterator {
	return &logRecordIterator{reader: r}
}

func (r *logReader) Close() error { return r.file.Close() }

type logRecordIterator struct {
	reader *logReader
	record *codec.Record
	err    error
}

func (it *logRecordIterator) Next() bool {
	it.record, it.err = it.reader.ReadNext()
	return it.err == nil
}

func (it *logRecordIterator) Record() *codec.Record { return it.record }
func (it *logRecordIterator) Close() error           { return nil }
