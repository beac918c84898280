package forum

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type ObjectType string

const (
	ObjectThread  ObjectType = "thread"
	ObjectPost    ObjectType = "post"
	ObjectComment ObjectType = "comment"
)

var ErrUnknownObjectType = errors.New("unknown object type")

type (
	Author struct {
		UserID   int64  `json:"user_id"`
		UserName string `json:"user_name"`
		Portrait string `json:"portrait"`
	}

	Thread struct {
		ThreadID int64    `json:"tid"`
		PostID   int64    `json:"pid"`
		Title    string   `json:"title"`
		Text     string   `json:"text"`
		Author   Author   `json:"author"`
		Images   []string `json:"images,omitempty"`
	}

	Post struct {
		ThreadID int64    `json:"tid"`
		PostID   int64    `json:"pid"`
		Floor    int      `json:"floor"`
		Text     string   `json:"text"`
		Author   Author   `json:"author"`
		Images   []string `json:"images,omitempty"`
	}

	Comment struct {
		ThreadID int64  `json:"tid"`
		PostID   int64  `json:"pid"`
		ParentID int64  `json:"ppid"`
		Text     string `json:"text"`
		Author   Author `json:"author"`
	}

	// Object is a closed variant over the three content kinds. Exactly one of
	// Thread, Post or Comment is set, matching Type.
	Object struct {
		Type    ObjectType
		Thread  *Thread
		Post    *Post
		Comment *Comment
	}
)

func ParseObjectType(s string) (ObjectType, error) {
	switch t := ObjectType(strings.ToLower(strings.TrimSpace(s))); t {
	case ObjectThread, ObjectPost, ObjectComment:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownObjectType, s)
	}
}

var decoders = map[ObjectType]func(raw []byte) (Object, error){
	ObjectThread: func(raw []byte) (Object, error) {
		v := &Thread{}
		if err := json.Unmarshal(raw, v); err != nil {
			return Object{}, err
		}
		return Object{Type: ObjectThread, Thread: v}, nil
	},
	ObjectPost: func(raw []byte) (Object, error) {
		v := &Post{}
		if err := json.Unmarshal(raw, v); err != nil {
			return Object{}, err
		}
		return Object{Type: ObjectPost, Post: v}, nil
	},
	ObjectComment: func(raw []byte) (Object, error) {
		v := &Comment{}
		if err := json.Unmarshal(raw, v); err != nil {
			return Object{}, err
		}
		return Object{Type: ObjectComment, Comment: v}, nil
	},
}

// DecodeObject turns a serialized snapshot into a typed Object using t as the discriminator.
func DecodeObject(t ObjectType, raw []byte) (Object, error) {
	decode, ok := decoders[t]
	if !ok {
		return Object{}, fmt.Errorf("%w: %q", ErrUnknownObjectType, t)
	}
	obj, err := decode(raw)
	if err != nil {
		return Object{}, fmt.Errorf("decode %s: %w", t, err)
	}
	return obj, nil
}

// Encode is the inverse of DecodeObject and returns the variant payload only.
func (o Object) Encode() ([]byte, error) {
	switch o.Type {
	case ObjectThread:
		return json.Marshal(o.Thread)
	case ObjectPost:
		return json.Marshal(o.Post)
	case ObjectComment:
		return json.Marshal(o.Comment)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownObjectType, o.Type)
	}
}

// ContentID is the id used as the force delete key: tid for threads, pid otherwise.
func (o Object) ContentID() int64 {
	switch o.Type {
	case ObjectThread:
		return o.Thread.ThreadID
	case ObjectPost:
		return o.Post.PostID
	case ObjectComment:
		return o.Comment.PostID
	}
	return 0
}

func (o Object) ThreadID() int64 {
	switch o.Type {
	case ObjectThread:
		return o.Thread.ThreadID
	case ObjectPost:
		return o.Post.ThreadID
	case ObjectComment:
		return o.Comment.ThreadID
	}
	return 0
}

func (o Object) Author() Author {
	switch o.Type {
	case ObjectThread:
		return o.Thread.Author
	case ObjectPost:
		return o.Post.Author
	case ObjectComment:
		return o.Comment.Author
	}
	return Author{}
}

func (o Object) Text() string {
	switch o.Type {
	case ObjectThread:
		return strings.TrimSpace(o.Thread.Title + "\n" + o.Thread.Text)
	case ObjectPost:
		return o.Post.Text
	case ObjectComment:
		return o.Comment.Text
	}
	return ""
}

func (o Object) Images() []string {
	switch o.Type {
	case ObjectThread:
		return o.Thread.Images
	case ObjectPost:
		return o.Post.Images
	}
	return nil
}

// Summary is a one-line human readable reference to the object.
func (o Object) Summary() string {
	author := o.Author().UserName
	switch o.Type {
	case ObjectThread:
		return fmt.Sprintf("thread %d %q by %s", o.Thread.ThreadID, o.Thread.Title, author)
	case ObjectPost:
		return fmt.Sprintf("post %d (floor %d, thread %d) by %s", o.Post.PostID, o.Post.Floor, o.Post.ThreadID, author)
	case ObjectComment:
		return fmt.Sprintf("comment %d (post %d, thread %d) by %s", o.Comment.PostID, o.Comment.ParentID, o.Comment.ThreadID, author)
	}
	return string(o.Type)
}
