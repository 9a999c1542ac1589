package search

import "errors"

var (
	ErrEmptyQuery    = errors.New("query is empty")
	ErrInvalidK      = errors.New("k must be between 1 and 200")
	ErrInvalidWeight = errors.New("ocr weight must be between 0 and 1")
	ErrInvalidMode   = errors.New("mode must be one of clip, ocr, hybrid")
)
