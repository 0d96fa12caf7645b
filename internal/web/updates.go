package web

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"storyscan/pkg/models"
)

// updates streams change events as NDJSON. The stream opens with a backfill
// of every story updated at or after ?since=, then switches to live events
// and stays open until the client disconnects. A missing or unparseable
// since defaults to now, which means live only.
//
// A subscription is taken before the backfill query so nothing merged during
// the backfill is lost; events that the backfill already covered are dropped
// when the buffer is flushed, so each change arrives exactly once across the
// backfill/live boundary.
func (s *Server) updates(c *gin.Context) {
	since := time.Now().Unix()
	if v, err := strconv.ParseInt(c.Query("since"), 10, 64); err == nil {
		since = v
	}

	c.Header("Content-Type", "application/x-ndjson")
	c.Header("Cache-Control", "no-cache")
	c.Status(http.StatusOK)

	sub := s.st.Subscribe()
	defer sub.Cancel()

	enc := json.NewEncoder(c.Writer)
	sent := map[string]int64{}
	err := s.st.ChangesSince(c.Request.Context(), since, func(story *models.Story) error {
		if err := enc.Encode(story); err != nil {
			return err
		}
		sent[eventKey(story)] = eventStamp(story)
		return nil
	})
	if err != nil {
		log.Printf("[web] updates backfill: %v", err)
		return
	}
	c.Writer.Flush()

	// events that arrived while the backfill ran
drain:
	for {
		select {
		case story, ok := <-sub.Events():
			if !ok {
				return
			}
			if stamp, dup := sent[eventKey(story)]; dup && eventStamp(story) <= stamp {
				continue
			}
			if err := enc.Encode(story); err != nil {
				return
			}
		default:
			break drain
		}
	}
	c.Writer.Flush()
	sent = nil

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case story, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := enc.Encode(story); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}

func eventKey(story *models.Story) string {
	return story.Site + "/" + strconv.FormatInt(story.SiteID, 10)
}

func eventStamp(story *models.Story) int64 {
	if story.DB != nil {
		return story.DB.Updated
	}
	return story.Updated
}
