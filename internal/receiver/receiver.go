package receiver

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"platecam/internal/logger"
	"platecam/internal/report"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxRecent = 50

type Plate struct {
	ID         string    `json:"id"`
	PlateText  string    `json:"plate_text"`
	FullImage  string    `json:"full_image"`
	PlateImage string    `json:"plate_image"`
	ReceivedAt time.Time `json:"received_at"`
}

// Receiver is the endpoint the application reports to. Each upload is kept
// in its own directory under dir.
type Receiver struct {
	dir string

	mu     sync.RWMutex
	recent []Plate
}

func New(dir string) (*Receiver, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Receiver{dir: dir}, nil
}

func (rc *Receiver) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/api/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.POST("/api/plate", rc.handleUpload)
	r.GET("/api/plates", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"data": rc.Recent()})
	})

	return r
}

func (rc *Receiver) handleUpload(c *gin.Context) {
	text := c.PostForm(report.FieldPlateText)
	if text == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing " + report.FieldPlateText})
		return
	}

	full, err := c.FormFile(report.FieldFullImage)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing " + report.FieldFullImage + ": " + err.Error()})
		return
	}
	plate, err := c.FormFile(report.FieldPlateImage)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing " + report.FieldPlateImage + ": " + err.Error()})
		return
	}

	id := uuid.NewString()
	dir := filepath.Join(rc.dir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	rec := Plate{
		ID:         id,
		PlateText:  text,
		FullImage:  filepath.Join(dir, "full"+filepath.Ext(full.Filename)),
		PlateImage: filepath.Join(dir, "plate"+filepath.Ext(plate.Filename)),
		ReceivedAt: time.Now(),
	}

	if err := c.SaveUploadedFile(full, rec.FullImage); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("save %s: %v", report.FieldFullImage, err)})
		return
	}
	if err := c.SaveUploadedFile(plate, rec.PlateImage); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("save %s: %v", report.FieldPlateImage, err)})
		return
	}

	rc.mu.Lock()
	rc.recent = append(rc.recent, rec)
	if len(rc.recent) > maxRecent {
		rc.recent = rc.recent[len(rc.recent)-maxRecent:]
	}
	rc.mu.Unlock()

	logger.Log().Info("plate received", zap.String("id", id), zap.String("plate", text))
	c.JSON(http.StatusCreated, gin.H{"data": rec})
}

// Recent returns the latest uploads, newest last.
func (rc *Receiver) Recent() []Plate {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	out := make([]Plate, len(rc.recent))
	copy(out, rc.recent)
	return out
}
