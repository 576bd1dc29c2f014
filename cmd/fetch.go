package cmd

import (
	"io"
	"net/http"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func initFetch() {
	rootCmd.AddCommand(fetchCmd)
	fetchCmd.PersistentFlags().StringVarP(&globalConfig.URL,
		"url", "u", "", "URL of the dataset file to download")
	fetchCmd.PersistentFlags().StringVarP(&globalConfig.OutputFile,
		"output", "o", "", "Filename to download to")
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download a dataset",
	Long:  `Download a dataset file over HTTP, retrying transient failures`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := globalConfig
		cfg.Mode = "fetch"

		if err := cfg.Validate(); err != nil {
			fatal(err)
		}

		if err := fetchFile(cfg); err != nil {
			fatal(err)
		}
	},
}

func fetchFile(cfg Config) error {
	log.WithFields(log.Fields{"url": cfg.URL,
		"output": cfg.OutputFile}).Info("Starting download")

	client := retryablehttp.NewClient()
	client.RetryMax = 5
	client.Logger = nil
	client.HTTPClient.Timeout = 10 * time.Minute

	resp, err := client.Get(cfg.URL)
	if err != nil {
		return errors.Wrapf(err, "download %s", cfg.URL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("download %s: unexpected status %s", cfg.URL, resp.Status)
	}

	f, err := os.Create(cfg.OutputFile)
	if err != nil {
		return err
	}

	written, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(cfg.OutputFile)
		return errors.Wrapf(err, "write %s", cfg.OutputFile)
	}

	successf("downloaded %s to %q", humanize.IBytes(uint64(written)), cfg.OutputFile)
	return nil
}
