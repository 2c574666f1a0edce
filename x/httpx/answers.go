package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type ErrorAnswBody struct {
	Code       string `json:"code"`
	StatusCode int    `json:"statusCode"`
	Details    string `json:"details"`
}

type ErrorAnsw struct {
	Body ErrorAnswBody `json:"error"`
}

func (e ErrorAnsw) Error() string {
	return fmt.Sprintf("error %s: %s", e.Body.Code, e.Body.Details)
}

func (e *ErrorAnsw) WriteJSON(w http.ResponseWriter) error {
	res, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "marshal answer")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Body.StatusCode)
	if _, err := w.Write(res); err != nil {
		return errors.Wrap(err, "write data to connection")
	}

	return nil
}

type ResultAnsw struct {
	Body interface{} `json:"result"`
}

func (answ *ResultAnsw) WriteJSON(w http.ResponseWriter) error {
	res, err := json.Marshal(answ)
	if err != nil {
		return errors.Wrap(err, "marshal answer")
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(res); err != nil {
		return errors.Wrap(err, "write data to connection")
	}

	return nil
}

// OkResult return OK answer
func OkResult() ResultAnsw {
	return ResultAnsw{Body: "ok"}
}

// WriteResult writes body as a result answer, logging a failed write.
func WriteResult(ctx context.Context, w http.ResponseWriter, body interface{}) {
	answ := ResultAnsw{Body: body}
	if err := answ.WriteJSON(w); err != nil {
		zerolog.Ctx(ctx).Err(err).Msg("write json")
	}
}

// WriteErrAnswer answers 503 naming the failed check in code.
func WriteErrAnswer(ctx context.Context, w http.ResponseWriter, err error, code string) {
	answ := ErrorAnsw{
		Body: ErrorAnswBody{
			Code:       code,
			StatusCode: http.StatusServiceUnavailable,
			Details:    err.Error(),
		},
	}

	if errWriteJSON := answ.WriteJSON(w); errWriteJSON != nil {
		zerolog.Ctx(ctx).Err(errWriteJSON).Msg("write json")
	}
}
