package repository

import "errors"

// ErrNotFound indicates an entity was not located.
var ErrNotFound = errors.New("repository: not found")

// ErrEmptyPatch indicates a patch carried no updatable fields.
var ErrEmptyPatch = errors.New("repository: empty patch")
