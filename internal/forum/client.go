package forum

import (
	"context"
	"errors"
	"fmt"
)

// Client is the remote forum API acting on behalf of one moderation account.
type Client interface {
	DeleteThread(ctx context.Context, forumID, threadID int64) (bool, error)
	DeletePost(ctx context.Context, forumID, threadID, postID int64) (bool, error)
	Ban(ctx context.Context, forumID int64, author Author, days int) (bool, error)
}

var ErrRejected = errors.New("remote rejected the operation")

var deleters = map[ObjectType]func(ctx context.Context, c Client, forumID int64, o Object) (bool, error){
	ObjectThread: func(ctx context.Context, c Client, forumID int64, o Object) (bool, error) {
		return c.DeleteThread(ctx, forumID, o.Thread.ThreadID)
	},
	ObjectPost: func(ctx context.Context, c Client, forumID int64, o Object) (bool, error) {
		return c.DeletePost(ctx, forumID, o.Post.ThreadID, o.Post.PostID)
	},
	ObjectComment: func(ctx context.Context, c Client, forumID int64, o Object) (bool, error) {
		return c.DeletePost(ctx, forumID, o.Comment.ThreadID, o.Comment.PostID)
	},
}

// DeleteObject issues the delete call matching the object's kind. A false
// result without an error is reported as ErrRejected.
func DeleteObject(ctx context.Context, c Client, forumID int64, o Object) error {
	del, ok := deleters[o.Type]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownObjectType, o.Type)
	}
	ok, err := del(ctx, c, forumID, o)
	if err != nil {
		return err
	}
	if !ok {
		return ErrRejected
	}
	return nil
}

// DeleteByRef deletes content known only by its identifiers, as force delete tasks do.
func DeleteByRef(ctx context.Context, c Client, forumID int64, t ObjectType, threadID, contentID int64) error {
	var o Object
	switch t {
	case ObjectThread:
		o = Object{Type: t, Thread: &Thread{ThreadID: contentID}}
	case ObjectPost:
		o = Object{Type: t, Post: &Post{ThreadID: threadID, PostID: contentID}}
	case ObjectComment:
		o = Object{Type: t, Comment: &Comment{ThreadID: threadID, PostID: contentID}}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownObjectType, t)
	}
	return DeleteObject(ctx, c, forumID, o)
}

func BanAuthor(ctx context.Context, c Client, forumID int64, o Object, days int) error {
	ok, err := c.Ban(ctx, forumID, o.Author(), days)
	if err != nil {
		return err
	}
	if !ok {
		return ErrRejected
	}
	return nil
}
