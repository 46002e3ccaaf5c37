package gateway

import "net/url"

// Session is the resumable identity of a gateway connection.
//
// ResumeURL is only ever set together with ID and Seq, so a non-empty
// ResumeURL always means "Resume" rather than "Identify".
type Session struct {
	ID        string
	Seq       *int64
	ResumeURL string
}

// Establish records the identity handed out by a READY dispatch.
// It is a no-op without a session id, and a missing resume URL leaves
// the session non-resumable.
func (s *Session) Establish(id, resumeURL string) {
	if id == "" {
		return
	}
	s.ID = id
	if resumeURL != "" && s.Seq != nil {
		s.ResumeURL = resumeURL
	}
}

// Advance records a dispatch sequence number. It reports false and keeps
// the current value if seq would move the sequence backwards.
func (s *Session) Advance(seq int64) bool {
	if s.Seq != nil && seq < *s.Seq {
		return false
	}
	s.Seq = &seq
	return true
}

// Invalidate drops the resume context so the next connection identifies fresh.
func (s *Session) Invalidate() {
	s.ResumeURL = ""
	s.ID = ""
}

// Reset clears everything ahead of a fresh Identify.
func (s *Session) Reset() {
	*s = Session{}
}

// Resumable reports whether the next connection should Resume.
func (s *Session) Resumable() bool {
	return s.ResumeURL != "" && s.ID != "" && s.Seq != nil
}

// Target returns the URL to dial: the resume URL when resumable, otherwise base.
// Query parameters of base (protocol version, encoding) are carried over to a
// resume URL that does not specify them.
func (s *Session) Target(base string) string {
	if !s.Resumable() {
		return base
	}

	resume, err := url.Parse(s.ResumeURL)
	if err != nil {
		return s.ResumeURL
	}
	b, err := url.Parse(base)
	if err != nil {
		return s.ResumeURL
	}

	q := resume.Query()
	for k, v := range b.Query() {
		if _, ok := q[k]; !ok {
			q[k] = v
		}
	}
	resume.RawQuery = q.Encode()
	if resume.Path == "" {
		resume.Path = "/"
	}
	return resume.String()
}
