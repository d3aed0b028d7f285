package apperr

import (
	"encoding/json"
	"errors"
	"net/http"

	"golang.org/x/text/language"
)

var supported = []language.Tag{language.English, language.Japanese}

var matcher = language.NewMatcher(supported)

// Lang picks English or Japanese from an Accept-Language header value. Default English.
func Lang(acceptLanguage string) language.Tag {
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return language.English
	}
	_, idx, conf := matcher.Match(tags...)
	if conf == language.No {
		return language.English
	}
	return supported[idx]
}

// Message returns the wire code and the user-facing message of err in lang.
// Errors outside the taxonomy are reported as internal so their text never leaks.
func Message(err error, lang language.Tag) (code, message string) {
	var e *Error
	if !errors.As(err, &e) {
		e = &Error{Kind: KindInternal}
	}
	en, ja := e.EN, e.JA
	if en == "" {
		en = defaultEN[e.Kind]
	}
	if ja == "" {
		ja = defaultJA[e.Kind]
	}
	if lang == language.Japanese {
		return e.Kind.String(), ja
	}
	return e.Kind.String(), en
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Write renders err as {"error":{"code","message"}} with the status of its kind.
func Write(w http.ResponseWriter, r *http.Request, err error) {
	var body errorBody
	body.Error.Code, body.Error.Message = Message(err, Lang(r.Header.Get("Accept-Language")))
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(KindOf(err).HTTPStatus())
	_ = json.NewEncoder(w).Encode(body)
}
