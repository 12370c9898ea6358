package models

import "errors"

// Store errors shared by the relational and document repositories.
var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a unique key is already taken.
	ErrDuplicate = errors.New("duplicate record")
	// ErrVersionConflict is returned when a conditional update lost against a concurrent writer.
	ErrVersionConflict = errors.New("version conflict")
)

// Member list errors.
var (
	ErrMemberExists   = errors.New("member already exists")
	ErrMemberNotFound = errors.New("member not found")
	ErrLastAdmin      = errors.New("organization must keep at least one admin")
)
