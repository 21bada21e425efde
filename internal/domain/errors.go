package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyInProgress = errors.New("generation already in progress")
	ErrInvalidSequence   = errors.New("invalid scene sequence")
	ErrNoShots           = errors.New("scene has no shots")
	ErrNoImages          = errors.New("no images generated for scene")
)
