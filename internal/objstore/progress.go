package objstore

import "io"

// ProgressReader reports cumulative bytes read to a ProgressFunc and stops
// reading as soon as the callback returns an error.
type ProgressReader struct {
	r     io.Reader
	total int64
	read  int64
	fn    ProgressFunc
	err   error
}

func NewProgressReader(r io.Reader, total int64, fn ProgressFunc) *ProgressReader {
	return &ProgressReader{r: r, total: total, fn: fn}
}

func (p *ProgressReader) Read(b []byte) (int, error) {
	if p.err != nil {
		return 0, p.err
	}
	n, err := p.r.Read(b)
	if n > 0 {
		p.read += int64(n)
		if p.fn != nil {
			if cbErr := p.fn(p.read, p.total); cbErr != nil {
				p.err = cbErr
				return n, cbErr
			}
		}
	}
	return n, err
}

// N returns the number of bytes read so far.
func (p *ProgressReader) N() int64 {
	return p.read
}

// Seekable returns p as an io.ReadSeeker when the wrapped reader can seek,
// and p unchanged otherwise.
func (p *ProgressReader) Seekable() io.Reader {
	if s, ok := p.r.(io.Seeker); ok {
		return &progressSeeker{ProgressReader: p, s: s}
	}
	return p
}

// progressSeeker moves the byte count along with the underlying offset, so a
// body rewound for signing or a retry reports from the start again.
type progressSeeker struct {
	*ProgressReader
	s io.Seeker
}

func (p *progressSeeker) Seek(offset int64, whence int) (int64, error) {
	pos, err := p.s.Seek(offset, whence)
	if err != nil {
		return pos, err
	}
	p.read = pos
	return pos, nil
}
