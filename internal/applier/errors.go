package applier

import "errors"

// Sentinel errors matching the relevant rows of spec.md §7's error taxonomy.
var (
	// ErrValidation signals a submitted event missing guid/entityGuid/type/
	// timestamp, or an otherwise malformed payload (ValidationError).
	ErrValidation = errors.New("applier: validation error")

	// ErrUnknownEventType signals no applier is registered for the event's
	// type (UnknownEventType).
	ErrUnknownEventType = errors.New("applier: unknown event type")

	// ErrInvalidGroup signals an add-member/remove-member event targeting
	// a non-Group entity (InvalidGroup).
	ErrInvalidGroup = errors.New("applier: target is not a group")
)
