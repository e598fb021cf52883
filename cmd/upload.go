package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	uploadMaxAttempts = 5
	uploadBackoff     = time.Second
)

var (
	uploadServer string
	uploadSecret string
	uploadURLID  string
	uploadTitle  string
	uploadFormat string
	uploadDir    string
	uploadFile   string
)

// uploadCmd is the admin client for the two-phase upload protocol:
// register a track, then push its pre-split chunk files one by one. Each
// chunk is retried up to 5 times with a fixed 1s backoff before the whole
// upload is declared failed; re-sending the same chunk is safe because the
// server overwrites on re-upload.
var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Upload a track to a ChunkFM server",
	Long: `Upload a track to a ChunkFM server.

With --dir, the directory's chunk files (chunk_0, chunk_1, ...) are
registered and uploaded one by one with per-chunk retry. With --file, the
whole file is uploaded in a single request (offset-mode servers).`,
	Run: func(cmd *cobra.Command, args []string) {
		if uploadURLID == "" || uploadTitle == "" {
			log.Fatal("both --url-id and --title are required")
		}

		switch {
		case uploadDir != "":
			if err := uploadPresplit(); err != nil {
				log.Fatalf("upload failed: %v", err)
			}
		case uploadFile != "":
			if err := uploadWhole(); err != nil {
				log.Fatalf("upload failed: %v", err)
			}
		default:
			log.Fatal("one of --dir or --file is required")
		}
		fmt.Println("Upload complete.")
	},
}

func init() {
	uploadCmd.Flags().StringVar(&uploadServer, "server", "http://localhost:8123", "server base URL")
	uploadCmd.Flags().StringVar(&uploadSecret, "secret", os.Getenv("SECRET_KEY"), "admin secret")
	uploadCmd.Flags().StringVar(&uploadURLID, "url-id", "", "external reference id (11 chars)")
	uploadCmd.Flags().StringVar(&uploadTitle, "title", "", "track title")
	uploadCmd.Flags().StringVar(&uploadFormat, "format", "", "audio format (wav, mp3, ogg)")
	uploadCmd.Flags().StringVar(&uploadDir, "dir", "", "directory of pre-split chunk files")
	uploadCmd.Flags().StringVar(&uploadFile, "file", "", "single audio file for whole-file upload")
	rootCmd.AddCommand(uploadCmd)
}

// chunkFiles lists dir's chunk files ordered by index.
func chunkFiles(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "chunk_*"))
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no chunk_* files in %s", dir)
	}
	sort.Slice(matches, func(i, j int) bool {
		return chunkIndex(matches[i]) < chunkIndex(matches[j])
	})
	return matches, nil
}

func chunkIndex(path string) int {
	name := filepath.Base(path)
	n, _ := strconv.Atoi(name[len("chunk_"):])
	return n
}

func uploadPresplit() error {
	files, err := chunkFiles(uploadDir)
	if err != nil {
		return err
	}

	trackID, err := registerTrack(len(files))
	if err != nil {
		return err
	}
	log.Printf("Registered track %d with %d chunks", trackID, len(files))

	// Chunks go up a few at a time; the limiter keeps a flaky retry storm
	// from hammering the server.
	limiter := rate.NewLimiter(rate.Limit(8), 1)
	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(4)

	for i, path := range files {
		i, path := i, path
		g.Go(func() error {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
			return uploadChunkWithRetry(trackID, i, path)
		})
	}
	return g.Wait()
}

func registerTrack(chunks int) (int64, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField("url_id", uploadURLID)
	mw.WriteField("title", uploadTitle)
	mw.WriteField("secret", uploadSecret)
	mw.WriteField("chunks", strconv.Itoa(chunks))
	if uploadFormat != "" {
		mw.WriteField("format", uploadFormat)
	}
	if err := mw.Close(); err != nil {
		return 0, err
	}

	resp, err := http.Post(uploadServer+"/upload", mw.FormDataContentType(), &body)
	if err != nil {
		return 0, fmt.Errorf("registration request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("registration rejected (%d): %s", resp.StatusCode, msg)
	}

	var out struct {
		TrackID int64 `json:"trackId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("failed to decode registration response: %w", err)
	}
	return out.TrackID, nil
}

// uploadChunkWithRetry sends one chunk, retrying the identical request on
// any non-success response.
func uploadChunkWithRetry(trackID int64, index int, path string) error {
	var lastErr error
	for attempt := 1; attempt <= uploadMaxAttempts; attempt++ {
		if lastErr = uploadChunkOnce(trackID, index, path); lastErr == nil {
			return nil
		}
		log.Printf("chunk %d attempt %d/%d failed: %v", index, attempt, uploadMaxAttempts, lastErr)
		if attempt < uploadMaxAttempts {
			time.Sleep(uploadBackoff)
		}
	}
	return fmt.Errorf("chunk %d failed after %d attempts: %w", index, uploadMaxAttempts, lastErr)
}

func uploadChunkOnce(trackID int64, index int, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField("secret", uploadSecret)
	mw.WriteField("current_track", strconv.FormatInt(trackID, 10))
	mw.WriteField("current_chunk", strconv.Itoa(index))
	part, err := mw.CreateFormFile("chunk", filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	resp, err := http.Post(uploadServer+"/upload", mw.FormDataContentType(), &body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server rejected chunk (%d): %s", resp.StatusCode, msg)
	}
	return nil
}

func uploadWhole() error {
	f, err := os.Open(uploadFile)
	if err != nil {
		return err
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField("url_id", uploadURLID)
	mw.WriteField("title", uploadTitle)
	mw.WriteField("secret", uploadSecret)
	mw.WriteField("format", uploadFormat)
	part, err := mw.CreateFormFile("audio", filepath.Base(uploadFile))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	resp, err := http.Post(uploadServer+"/upload", mw.FormDataContentType(), &body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("upload rejected (%d): %s", resp.StatusCode, msg)
	}
	return nil
}
