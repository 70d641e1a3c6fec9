package clients

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/vstore/vstore/common/errs"
)

// replyEnvelope is the wire shape every storage node reply uses: an error
// integer (0 = success) and a reply payload object.
type replyEnvelope struct {
	Error    int             `json:"error"`
	ErrorMsg string          `json:"error_msg"`
	Reply    json.RawMessage `json:"reply"`
}

// decodeReply validates status and envelope and returns the reply payload.
func decodeReply(resp *http.Response) (json.RawMessage, error) {
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: status %d", errs.ErrNodeUnreachable, resp.StatusCode)
	}
	var env replyEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrMalformedReply, err)
	}
	if env.Error != 0 {
		return nil, fmt.Errorf("%w: error %d: %s", errs.ErrMalformedReply, env.Error, env.ErrorMsg)
	}
	return env.Reply, nil
}
