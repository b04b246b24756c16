package deepargo

import (
	"fmt"
	"io"
	"net/http"
	"os"
)

// DownloadDataset fetches a dataset file over HTTP into outputPath, printing
// progress as it goes.
func DownloadDataset(outputPath, url string) error {
	fmt.Println("Downloading dataset...")

	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("failed to get file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	contentLength := resp.ContentLength
	var totalRead int64

	out, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", outputPath, err)
	}
	defer out.Close()

	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			totalRead += int64(n)
			if contentLength > 0 {
				percentage := float64(totalRead) / float64(contentLength) * 100
				fmt.Printf("\rDownloading... %.2f%% complete", percentage)
			}
			if _, writeErr := out.Write(buf[:n]); writeErr != nil {
				return fmt.Errorf("failed to write to file %s: %w", outputPath, writeErr)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read data: %w", err)
		}
	}
	fmt.Println("\nDownload complete.")
	return nil
}
