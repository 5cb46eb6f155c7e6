package telegraf

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"dhtpub/shared"
	"dhtpub/utils"

	"github.com/charmbracelet/log"
)

var tagEscaper = strings.NewReplacer(",", `\,`, " ", `\ `, "=", `\=`)

// Line renders a reading as one Influx line protocol record.
func Line(r shared.Reading) string {
	return fmt.Sprintf("%s,topic=%s value=%f %d",
		r.Kind.Measurement(), tagEscaper.Replace(r.Topic), r.Value, r.Time.UnixNano())
}

// requestTimeout bounds each POST; it is not tied to the shutdown context so
// readings buffered at shutdown still reach Telegraf.
const requestTimeout = 10 * time.Second

// receive readings on the channel and publish them to the Telegraf HTTP listener
// until the channel is closed and drained
func StartPublisher(wg *sync.WaitGroup, telegrafURL string, readings <-chan shared.Reading) {
	defer wg.Done()

	client := &http.Client{Timeout: requestTimeout}

	for r := range readings {
		line := Line(r)
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		err := post(ctx, client, telegrafURL, line)
		cancel()
		if err != nil {
			log.Warnf("FAILED metric published to Telegraf Line: [%s]: %s", utils.ReplaceBinaryWithHex(line), err)
			continue
		}
		log.Debugf("metric published to Telegraf: %s", line)
	}
	log.Info("Telegraf publisher drained, shutting down.")
}

func post(ctx context.Context, client *http.Client, telegrafURL, line string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, telegrafURL, bytes.NewBufferString(line))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	err = resp.Body.Close()
	if err != nil {
		log.Error("Error failed to close Request Body:", "err", err)
	}

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("StatusCode: %d, Status: %s", resp.StatusCode, resp.Status)
	}
	return nil
}
