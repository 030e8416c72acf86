package telegram

import (
	"errors"
	"fmt"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"chanwatch/internal/transport"
)

// classify maps telebot errors onto the transport error vocabulary:
// flood control becomes *transport.RetryAfterError and unknown or
// inaccessible chats wrap transport.ErrChatNotFound.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if wait, ok := floodWait(err); ok {
		return &transport.RetryAfterError{Wait: wait, Err: err}
	}
	if errors.Is(err, tele.ErrChatNotFound) || chatGone(err.Error()) {
		return fmt.Errorf("%w: %v", transport.ErrChatNotFound, err)
	}
	return err
}

func floodWait(err error) (time.Duration, bool) {
	var fe tele.FloodError
	if errors.As(err, &fe) {
		return time.Duration(fe.RetryAfter) * time.Second, true
	}
	var pfe *tele.FloodError
	if errors.As(err, &pfe) && pfe != nil {
		return time.Duration(pfe.RetryAfter) * time.Second, true
	}
	return 0, false
}

func chatGone(desc string) bool {
	d := strings.ToLower(desc)
	for _, s := range []string{
		"chat not found",
		"username_invalid",
		"username_not_occupied",
		"channel_private",
		"bot was kicked",
		"not a member",
	} {
		if strings.Contains(d, s) {
			return true
		}
	}
	return false
}
