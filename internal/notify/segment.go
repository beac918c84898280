package notify

import "strings"

type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
)

// Segment is one piece of an outgoing notification.
type Segment struct {
	Kind Kind
	Text string
	URL  string
}

func Text(s string) Segment {
	return Segment{Kind: KindText, Text: s}
}

func Image(url string) Segment {
	return Segment{Kind: KindImage, URL: url}
}

// Notice is a notification addressed to a chat, optionally as a reply.
type Notice struct {
	ChatID   int64
	ReplyTo  int
	Segments []Segment
}

func (n Notice) text() string {
	parts := make([]string, 0, len(n.Segments))
	for _, s := range n.Segments {
		if s.Kind == KindText && strings.TrimSpace(s.Text) != "" {
			parts = append(parts, s.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func (n Notice) image() string {
	for _, s := range n.Segments {
		if s.Kind == KindImage && s.URL != "" {
			return s.URL
		}
	}
	return ""
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-1]) + "…"
}
