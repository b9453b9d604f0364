package transport

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/avelar-io/ttskit/internal/credentials"
)

// PassthroughSigner attaches the credential fields without computing a
// signature. Development and testing only; production deployments inject a
// Signer implementing the backend's signing scheme.
type PassthroughSigner struct{}

func (PassthroughSigner) SignRequest(req *http.Request, creds credentials.Set) error {
	req.Header.Set("X-App-Id", creds.AppID)
	req.Header.Set("X-Secret-Id", creds.SecretID)
	if creds.Token != "" {
		req.Header.Set("X-Token", creds.Token)
	}
	req.Header.Set("X-Timestamp", fmt.Sprintf("%d", time.Now().Unix()))
	return nil
}

func (PassthroughSigner) SignQuery(q url.Values, creds credentials.Set) error {
	q.Set("AppId", creds.AppID)
	q.Set("SecretId", creds.SecretID)
	if creds.Token != "" {
		q.Set("Token", creds.Token)
	}
	q.Set("Timestamp", fmt.Sprintf("%d", time.Now().Unix()))
	return nil
}
