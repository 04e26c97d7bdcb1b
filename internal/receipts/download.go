package receipts

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"bookstore-backend/internal/apperr"
)

const maxReceiptBytes = 10 << 20

// Document is a downloaded receipt.
type Document struct {
	Body        []byte
	ContentType string
}

func download(ctx context.Context, client *http.Client, url string) (*Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperr.BadRequest("Invalid receipt URL: %v", err)
	}
	req.Header.Set("Accept", "application/pdf, text/html;q=0.9, */*;q=0.1")

	resp, err := client.Do(req)
	if err != nil {
		return nil, apperr.Internal(err, "Failed to download receipt")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, apperr.BadRequest("Receipt not found at the bank, check the reference number")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperr.Internal(fmt.Errorf("status %d", resp.StatusCode), "Bank receipt service unavailable")
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReceiptBytes+1))
	if err != nil {
		return nil, apperr.Internal(err, "Failed to read receipt")
	}
	if len(body) > maxReceiptBytes {
		return nil, apperr.BadRequest("Receipt document is too large")
	}
	if len(body) == 0 {
		return nil, apperr.BadRequest("Receipt document is empty")
	}
	return &Document{Body: body, ContentType: resp.Header.Get("Content-Type")}, nil
}
