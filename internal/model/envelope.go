package model

import "errors"

// Envelope is the normalized response of every dispatched call,
// discriminated by the "status" key: "executed" carries the handler's
// result fields inline, "error" carries "code" and "message".
type Envelope map[string]any

// Executed builds a success envelope with the handler's result fields
// merged in. A "status" key in the result is overwritten.
func Executed(result map[string]any) Envelope {
	env := make(Envelope, len(result)+1)
	for k, v := range result {
		env[k] = v
	}
	env["status"] = string(OutcomeExecuted)
	return env
}

// ErrorEnvelope builds an error envelope for the given taxonomy code.
func ErrorEnvelope(code, message string) Envelope {
	return Envelope{
		"status":  string(OutcomeError),
		"code":    code,
		"message": message,
	}
}

// FromError converts err into an error envelope. A CodedError keeps its
// code and retry delay; anything else becomes EXECUTION_ERROR with the
// error text passed through verbatim.
func FromError(err error) Envelope {
	var coded *CodedError
	if errors.As(err, &coded) {
		env := ErrorEnvelope(coded.Code, coded.Message)
		if coded.RetryAfterMs > 0 {
			env["retry_after_ms"] = coded.RetryAfterMs
		}
		return env
	}
	return ErrorEnvelope(ErrCodeExecutionError, err.Error())
}

// Status returns the envelope's status discriminator.
func (e Envelope) Status() Outcome {
	s, _ := e["status"].(string)
	return Outcome(s)
}

// Code returns the taxonomy code of an error envelope, or "".
func (e Envelope) Code() string {
	c, _ := e["code"].(string)
	return c
}

// IsErrorShape reports whether a raw handler result already matches the
// error envelope shape (status "error" plus a known taxonomy code). The
// kernel passes such results through as errors instead of wrapping them.
func IsErrorShape(result map[string]any) bool {
	if s, _ := result["status"].(string); s != string(OutcomeError) {
		return false
	}
	code, _ := result["code"].(string)
	return KnownErrorCode(code)
}
