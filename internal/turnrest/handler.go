package turnrest

import (
	"log/slog"
	"net/http"

	"github.com/collabhub/presence-relay/internal/httpserver"
)

// ICEServer mirrors the RTCIceServer dictionary browsers feed to
// RTCPeerConnection.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

type iceConfigResponse struct {
	ICEServers []ICEServer `json:"iceServers"`
	TTLSeconds int64       `json:"ttlSeconds,omitempty"`
}

// Handler serves the ICE server list for clients. gen may be nil when no TURN
// secret is configured; the response then carries STUN servers only.
func Handler(log *slog.Logger, stunURLs, turnURIs []string, gen *Generator) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var resp iceConfigResponse
		if len(stunURLs) > 0 {
			resp.ICEServers = append(resp.ICEServers, ICEServer{URLs: stunURLs})
		}

		if gen != nil && len(turnURIs) > 0 {
			creds, err := gen.MintRandom()
			if err != nil {
				log.Error("failed to mint turn credentials", "err", err)
				httpserver.WriteJSON(w, http.StatusInternalServerError, map[string]any{"error": "credential generation failed"})
				return
			}
			resp.ICEServers = append(resp.ICEServers, ICEServer{
				URLs:       turnURIs,
				Username:   creds.Username,
				Credential: creds.Credential,
			})
			resp.TTLSeconds = int64(gen.ttl.Seconds())
		}

		httpserver.WriteJSON(w, http.StatusOK, resp)
	})
}
