package room

import (
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

var RoomIdRule = []validation.Rule{
	validation.Required,
	validation.Length(1, 64),
	validation.Match(regexp.MustCompile("^[a-zA-Z0-9_.-]+$")),
}

var UserIdRule = []validation.Rule{
	validation.Length(0, 64),
	validation.Match(regexp.MustCompile("^[a-zA-Z0-9_-]+$")),
}

var UsernameRule = []validation.Rule{
	validation.Required,
	validation.Length(1, 32),
}

var VideoIdRule = []validation.Rule{
	validation.Required,
	validation.Length(1, 64),
}

var ThumbnailUrlRule = []validation.Rule{
	is.URL,
}
