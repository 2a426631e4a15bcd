package rest

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/socialgov/apperr"
	"github.com/kasuganosora/socialgov/cache"
	"github.com/kasuganosora/socialgov/config"
	"github.com/kasuganosora/socialgov/game/player"
	mw "github.com/kasuganosora/socialgov/middleware"
	"github.com/kasuganosora/socialgov/model"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const passwordCost = 12

// AuthHandler handles player login and session endpoints.
type AuthHandler struct {
	db     *gorm.DB
	cache  cache.Cache
	sec    config.SecurityConfig
	dir    *player.GormDirectory
	logger *zap.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(db *gorm.DB, c cache.Cache, sec config.SecurityConfig, dir *player.GormDirectory, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{db: db, cache: c, sec: sec, dir: dir, logger: logger}
}

type loginRequest struct {
	Username string `json:"username" binding:"required,min=2,max=32"`
	Password string `json:"password" binding:"required,min=4,max=64"`
}

// Login handles POST /api/auth/login.
// Unknown usernames are registered on first login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	ctx := c.Request.Context()

	var p model.Player
	err := h.db.WithContext(ctx).Where("username = ?", req.Username).First(&p).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), passwordCost)
		if err != nil {
			fail(c, h.logger, apperr.Internal(err, "hash password"))
			return
		}
		p = model.Player{Username: req.Username, PasswordHash: string(hash), Level: 1, Status: 1}
		if err := h.db.WithContext(ctx).Create(&p).Error; err != nil {
			if isUniqueViolation(err) {
				fail(c, h.logger, apperr.Conflict("username already taken"))
			} else {
				fail(c, h.logger, apperr.Store(err, "register player"))
			}
			return
		}
		h.logger.Info("player registered", zap.Int64("player_id", p.ID), zap.String("username", p.Username))
	case err != nil:
		fail(c, h.logger, apperr.Store(err, "find player"))
		return
	default:
		if err := bcrypt.CompareHashAndPassword([]byte(p.PasswordHash), []byte(req.Password)); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials", "kind": apperr.KindPermissionDenied})
			return
		}
		if p.Status == 0 {
			fail(c, h.logger, apperr.PermissionDenied("player banned"))
			return
		}
	}

	token, err := h.issue(ctx, p.ID)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	if err := h.dir.TouchLogin(ctx, p.ID, c.ClientIP()); err != nil {
		h.logger.Warn("touch login failed", zap.Int64("player_id", p.ID), zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{
		"token":     token,
		"player_id": p.ID,
		"level":     p.Level,
	})
}

func (h *AuthHandler) issue(ctx context.Context, playerID int64) (string, error) {
	token, err := mw.GenerateToken(playerID, h.sec.JWTSecret, h.sec.JWTTTLH)
	if err != nil {
		return "", apperr.Internal(err, "sign token")
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := h.cache.Set(ctx, mw.SessionKey(token), strconv.FormatInt(playerID, 10), h.sec.JWTTTLH); err != nil {
		return "", apperr.Wrap(err, apperr.KindUnavailable, "store session")
	}
	return token, nil
}

// Logout handles POST /api/auth/logout.
func (h *AuthHandler) Logout(c *gin.Context) {
	tokenStr := mw.BearerToken(c)
	if tokenStr == "" {
		badRequest(c, "missing token")
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	_ = h.cache.Del(ctx, mw.SessionKey(tokenStr))
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// Refresh handles POST /api/auth/refresh. The old token is revoked.
func (h *AuthHandler) Refresh(c *gin.Context) {
	playerID := mw.GetPlayerID(c)
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	_ = h.cache.Del(ctx, mw.SessionKey(mw.BearerToken(c)))

	token, err := h.issue(c.Request.Context(), playerID)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

// Me handles GET /api/auth/me.
func (h *AuthHandler) Me(c *gin.Context) {
	var p model.Player
	err := h.db.WithContext(c.Request.Context()).First(&p, mw.GetPlayerID(c)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		fail(c, h.logger, apperr.NotFound("player not found"))
		return
	}
	if err != nil {
		fail(c, h.logger, apperr.Store(err, "find player"))
		return
	}
	c.JSON(http.StatusOK, p)
}

// isUniqueViolation detects duplicate-key errors from common database drivers.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") ||
		strings.Contains(msg, "duplicate") ||
		strings.Contains(msg, "already exists")
}
