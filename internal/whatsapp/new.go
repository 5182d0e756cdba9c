package whatsapp

import (
	"net/http"
	"time"

	"github.com/nguyentantai21042004/voicebrief/internal/logger"
)

type implGateway struct {
	apiBase       string
	accessToken   string
	phoneNumberID string
	httpClient    *http.Client
	logger        logger.Logger
}

// New creates a Gateway for the Cloud API at apiBase. The client
// timeout is generous: voice-note downloads can be slow.
func New(apiBase, accessToken, phoneNumberID string, log logger.Logger) Gateway {
	return &implGateway{
		apiBase:       apiBase,
		accessToken:   accessToken,
		phoneNumberID: phoneNumberID,
		httpClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
		logger: log,
	}
}
