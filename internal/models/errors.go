package models

import (
	"errors"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation error")
	ErrInvalidScore = errors.New("score out of range")
	ErrNoArticles   = errors.New("no articles")
)
