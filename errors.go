package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"inboxpal/audio"
	"inboxpal/authed"
	"inboxpal/backend"
	"inboxpal/recorder"
	"inboxpal/session"
	"inboxpal/transcriber"
)

// exitCode carries a non-zero status out of a command without printing
// an error line.
type exitCode int

func (e exitCode) Error() string { return fmt.Sprintf("exit status %d", int(e)) }

// UserMessage turns an error into a line fit for the terminal.
func UserMessage(err error) string {
	var (
		se     *backend.StatusError
		urlErr *url.Error
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, authed.ErrUnauthenticated), errors.Is(err, session.ErrNotLoggedIn):
		return "You are not logged in. Run: inboxpal login"
	case errors.Is(err, authed.ErrSessionExpired):
		return "Your session expired. Run: inboxpal login"
	case errors.Is(err, session.ErrEmptyToken):
		return "The login token was empty."
	case errors.Is(err, session.ErrBundleIncomplete):
		return "Signed in, but the client credentials could not be fetched. Some features may not work until you log in again."
	case errors.Is(err, audio.ErrDeviceBusy):
		return "The microphone is already in use."
	case errors.Is(err, audio.ErrDeviceUnavailable):
		return "Microphone unavailable. Check that a device is connected and that access is allowed."
	case errors.Is(err, recorder.ErrEmptyRecording):
		return "No audio was captured. Try again."
	case errors.Is(err, recorder.ErrBusy):
		return "A recording is already in progress."
	case errors.Is(err, transcriber.ErrNothingToProcess):
		return "Nothing to process."
	case errors.Is(err, backend.ErrMalformedResponse):
		return "The server sent a response inboxpal could not understand."
	case errors.As(err, &se):
		return fmt.Sprintf("The backend reported a %s.", se.Describe())
	case errors.Is(err, context.DeadlineExceeded):
		return "The server took too long to respond."
	case errors.Is(err, context.Canceled):
		return "Cancelled."
	case errors.As(err, &urlErr):
		return "Cannot reach the server: " + urlErr.Err.Error()
	default:
		return err.Error()
	}
}
