// Package validate holds the input checks applied before any write.
package validate

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/nodesocial/apiserver/internal/errs"
	"github.com/nodesocial/apiserver/types"
)

const MinPasswordLength = 6

var emailPattern = regexp.MustCompile(`^\w+([.-]?\w+)*@\w([.-]?\w+)*(\.\w{2,3})+$`)

// Profile is the set of fields a registration or profile edit submits.
// A nil Password leaves the stored credential unchanged.
type Profile struct {
	Name      string
	Email     string
	About     string
	Password  *string
	PhotoSize int64
}

// ProfileEdit checks an edit. An empty password means unchanged.
func ProfileEdit(p Profile) error {
	if err := PhotoSize(p.PhotoSize); err != nil {
		return err
	}
	if err := nameAndEmail(p); err != nil {
		return err
	}
	if p.Password != nil && *p.Password != "" && utf8.RuneCountInString(*p.Password) < MinPasswordLength {
		return errs.Validation(fmt.Sprintf("Password must be at least %d characters long", MinPasswordLength))
	}
	return nil
}

// Registration checks a new account. The password is mandatory.
func Registration(p Profile) error {
	if err := nameAndEmail(p); err != nil {
		return err
	}
	if p.Password == nil || *p.Password == "" {
		return errs.Validation("Password is required")
	}
	if utf8.RuneCountInString(*p.Password) < MinPasswordLength {
		return errs.Validation(fmt.Sprintf("Password must be at least %d characters long", MinPasswordLength))
	}
	return nil
}

// PhotoSize rejects photos above types.MaxPhotoBytes.
func PhotoSize(size int64) error {
	if size > types.MaxPhotoBytes {
		return errs.Validation(fmt.Sprintf("File size should be less than %d bytes", types.MaxPhotoBytes))
	}
	return nil
}

// PostBody checks the text of a new post.
func PostBody(body string) error {
	if strings.TrimSpace(body) == "" {
		return errs.Validation("Post text is required")
	}
	return nil
}

// Email reports whether s looks like an email address.
func Email(s string) bool {
	return emailPattern.MatchString(s)
}

func nameAndEmail(p Profile) error {
	if strings.TrimSpace(p.Name) == "" {
		return errs.Validation("Name is required")
	}
	if !Email(strings.TrimSpace(p.Email)) {
		return errs.Validation("A valid email is required")
	}
	return nil
}
