package model

import "encoding/json"

type Error struct {
	Message string
}

func (e Error) Error() string {
	return e.Message
}

func (e Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Error())
}

func (e *Error) UnmarshalJSON(b []byte) error {
	var str string
	err := json.Unmarshal(b, &str)
	if err != nil {
		return nil
	}
	*e = Error{str}
	return nil
}

// ToError converts err into an Error, returning the zero value for nil.
func ToError(err error) Error {
	if err == nil {
		return Error{}
	}
	return Error{Message: err.Error()}
}
