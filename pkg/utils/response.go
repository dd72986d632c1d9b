package utils

// ResponseData is the standard REST response envelope.
type ResponseData struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Results any    `json:"results,omitempty"`
}

// PanicIfNeeded panics on non-nil error so the Recovery middleware converts
// typed errors into structured responses.
func PanicIfNeeded(err error) {
	if err != nil {
		panic(err)
	}
}
