// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package unit

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies why a unit became unusable.
type ErrorKind int

const (
	// ErrorKindUnset is the zero value and never recorded.
	ErrorKindUnset ErrorKind = iota
	// ErrorKindDatatype is a generic failure of the unit to start.
	ErrorKindDatatype
	// ErrorKindPersistence means the unit could not read or write its local state.
	ErrorKindPersistence
	// ErrorKindCrypto means the unit could not decrypt its data.
	ErrorKindCrypto
	// ErrorKindUnready means the unit's own start precondition is not met.
	ErrorKindUnready
	// ErrorKindPolicy means the unit is disabled by policy.
	ErrorKindPolicy
	// ErrorKindUnrecoverable fails the whole configuration pass.
	ErrorKindUnrecoverable
)

var errorKindNames = map[ErrorKind]string{
	ErrorKindUnset:         "unset",
	ErrorKindDatatype:      "datatype",
	ErrorKindPersistence:   "persistence",
	ErrorKindCrypto:        "crypto",
	ErrorKindUnready:       "unready",
	ErrorKindPolicy:        "policy",
	ErrorKindUnrecoverable: "unrecoverable",
}

func (k ErrorKind) String() string {
	if name, ok := errorKindNames[k]; ok {
		return name
	}

	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// ParseErrorKind is the inverse of ErrorKind.String.
func ParseErrorKind(s string) (ErrorKind, error) {
	for kind, name := range errorKindNames {
		if strings.EqualFold(name, s) {
			return kind, nil
		}
	}

	return ErrorKindUnset, fmt.Errorf("unknown error kind %q", s)
}

func (k ErrorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *ErrorKind) UnmarshalText(text []byte) error {
	kind, err := ParseErrorKind(string(text))
	if err != nil {
		return err
	}

	*k = kind

	return nil
}

// Error is an error raised by a unit together with its kind. Controllers
// return it from Start to classify a failure; other errors count as
// ErrorKindDatatype.
type Error struct {
	ID   ID
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}

	return fmt.Sprintf("%s error in unit %s: %v", e.Kind, e.ID, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with a kind.
func NewError(id ID, kind ErrorKind, err error) *Error {
	return &Error{ID: id, Kind: kind, Err: err}
}

// NewCryptoError marks err as a decryption failure.
func NewCryptoError(id ID, err error) *Error {
	return NewError(id, ErrorKindCrypto, err)
}

// NewPersistenceError marks err as a local storage failure.
func NewPersistenceError(id ID, err error) *Error {
	return NewError(id, ErrorKindPersistence, err)
}

// NewUnrecoverableError marks err as fatal for the whole configuration pass.
func NewUnrecoverableError(id ID, err error) *Error {
	return NewError(id, ErrorKindUnrecoverable, err)
}

// KindOf returns the kind carried by err, ErrorKindDatatype for plain errors
// and ErrorKindUnset for nil.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ErrorKindUnset
	}

	var unitErr *Error
	if errors.As(err, &unitErr) && unitErr.Kind != ErrorKindUnset {
		return unitErr.Kind
	}

	return ErrorKindDatatype
}
