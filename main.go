package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/TRIOSCS/Avail-AI-Test-sub000/internal/auth"
	"github.com/TRIOSCS/Avail-AI-Test-sub000/internal/config"
	"github.com/TRIOSCS/Avail-AI-Test-sub000/internal/events"
	"github.com/TRIOSCS/Avail-AI-Test-sub000/internal/graph"
	"github.com/TRIOSCS/Avail-AI-Test-sub000/internal/mailsync"
	"github.com/TRIOSCS/Avail-AI-Test-sub000/internal/records"
	"github.com/TRIOSCS/Avail-AI-Test-sub000/internal/state"
	"github.com/TRIOSCS/Avail-AI-Test-sub000/internal/tag"
	"github.com/TRIOSCS/Avail-AI-Test-sub000/internal/threads"
)

// syncRunTimeout is the overall deadline a single scheduler-triggered
// pass gets; an abandoned run leaves the durable stores resumable.
const syncRunTimeout = 90 * time.Second

type SyncRequest struct {
	Folder        string `json:"folder"`
	Purpose       string `json:"purpose" binding:"required"`
	LookbackHours int    `json:"lookback_hours"`
	MaxMessages   int    `json:"max_messages"`
}

type OutboundRequest struct {
	LookbackHours int `json:"lookback_hours"`
	MaxMessages   int `json:"max_messages"`
}

func main() {
	cfg := config.Load()

	store, err := state.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	publisher, err := events.NewPublisher(cfg.NATSURL)
	if err != nil {
		log.Fatal(err)
	}
	defer publisher.Close()

	if err := publisher.EnsureStream(context.Background()); err != nil {
		log.Fatal(err)
	}

	verifier, err := auth.NewJWTVerifier(cfg.JWKSURL)
	if err != nil {
		log.Fatal(err)
	}

	provider, err := auth.ParseProvider(cfg.MailProvider)
	if err != nil {
		log.Fatal(err)
	}

	tokens := auth.NewTokenClient(cfg.AuthServerURL)
	recordsClient := records.NewClient(cfg.RecordsBaseURL)
	tagger := tag.New(cfg.TagPrefix)
	cache := threads.NewResultCache(cfg.CacheTTL)
	manager := mailsync.NewManager()

	// pagerFor builds a mail API client on the caller's own provider
	// token, fetched through the identity provider.
	pagerFor := func(c *gin.Context) *graph.Client {
		src := tokens.TokenSource(c.GetString("user_jwt"), provider)
		return graph.NewClient(cfg.GraphBaseURL, src)
	}

	syncEngineFor := func(c *gin.Context) *mailsync.Engine {
		return &mailsync.Engine{
			Pager:               pagerFor(c),
			Cursors:             store,
			Markers:             store,
			BackfillLookback:    cfg.BackfillLookback,
			IncrementalLookback: cfg.IncrementalLookback,
		}
	}

	threadsEngineFor := func(c *gin.Context) *threads.Engine {
		return &threads.Engine{
			API:             pagerFor(c),
			Linkage:         recordsClient,
			Directory:       recordsClient,
			Cache:           cache,
			Tagger:          tagger,
			InternalDomains: cfg.InternalDomains,
			GenericDomains:  cfg.GenericDomains,
			SLAWindow:       cfg.SLAWindow,
			MaxDomains:      cfg.MaxDomainSearches,
		}
	}

	r := gin.Default()

	authorized := r.Group("/")
	authorized.Use(authMiddleware(verifier))

	// Scheduler entry point: one sync pass for the caller.
	authorized.POST("/sync/run", func(c *gin.Context) {
		var req SyncRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		purpose, err := mailsync.ParsePurpose(req.Purpose)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		folder := req.Folder
		if folder == "" {
			folder = "inbox"
		}
		maxMessages := req.MaxMessages
		if maxMessages <= 0 {
			maxMessages = cfg.MaxMessagesPerRun
		}

		userID := c.GetString("user_id")
		handler := events.DiscoveryHandler(publisher, userID, purpose)

		ctx, cancel := context.WithTimeout(c.Request.Context(), syncRunTimeout)
		defer cancel()

		res, err := manager.RunSync(ctx, syncEngineFor(c), userID, folder, purpose,
			time.Duration(req.LookbackHours)*time.Hour, maxMessages, handler)
		if err != nil {
			if errors.Is(err, mailsync.ErrAlreadyRunning) {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"messages_scanned": res.MessagesScanned,
			"dispatched":       res.Dispatched,
			"used_delta":       res.UsedDelta,
		})
	})

	// Outbound outreach scan over the sent folder.
	authorized.POST("/sync/outbound", func(c *gin.Context) {
		var req OutboundRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		maxMessages := req.MaxMessages
		if maxMessages <= 0 {
			maxMessages = cfg.MaxMessagesPerRun
		}

		scanner := &mailsync.OutboundScanner{
			Engine:          syncEngineFor(c),
			Tagger:          tagger,
			InternalDomains: cfg.InternalDomains,
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), syncRunTimeout)
		defer cancel()

		res, err := scanner.Run(ctx, c.GetString("user_id"),
			time.Duration(req.LookbackHours)*time.Hour, maxMessages)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"messages_scanned": res.MessagesScanned,
			"used_delta":       res.UsedDelta,
			"tagged_messages":  res.TaggedMessages,
			"domain_outreach":  res.DomainOutreach,
		})
	})

	authorized.GET("/requirements/:id/threads", func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid requirement id"})
			return
		}

		list := threadsEngineFor(c).ThreadsForRequirement(c.Request.Context(), id, c.GetString("user_id"))
		c.JSON(http.StatusOK, gin.H{"threads": list})
	})

	authorized.GET("/vendors/:id/threads", func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid vendor id"})
			return
		}

		list := threadsEngineFor(c).ThreadsForVendor(c.Request.Context(), id, c.GetString("user_id"))
		c.JSON(http.StatusOK, gin.H{"threads": list})
	})

	authorized.GET("/threads/:conversationId/messages", func(c *gin.Context) {
		msgs, err := threadsEngineFor(c).ThreadMessages(c.Request.Context(),
			c.GetString("user_id"), c.Param("conversationId"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"messages": msgs})
	})

	log.Fatal(r.Run(cfg.ListenAddr))
}

func authMiddleware(verifier *auth.JWTVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := verifier.UserFromRequest(c.Request)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			c.Abort()
			return
		}

		raw := c.GetHeader("Authorization")
		raw = strings.TrimPrefix(raw, "Bearer ")

		c.Set("user_id", user.ID)
		c.Set("user_jwt", raw)
		c.Next()
	}
}
