package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/qs3c/review_go_server/config"
	"github.com/qs3c/review_go_server/internal/model"
	"github.com/qs3c/review_go_server/internal/model/dto"
	"github.com/qs3c/review_go_server/internal/pkg/cache"
	"github.com/qs3c/review_go_server/internal/pkg/jwt"
	"github.com/qs3c/review_go_server/internal/pkg/oauth"
	"github.com/qs3c/review_go_server/internal/repository"
)

var (
	ErrUserExists         = errors.New("用户名或邮箱已被占用")
	ErrInvalidCredentials = errors.New("用户名或密码错误")
	ErrInvalidOAuthState  = errors.New("OAuth state 无效或已过期")
)

const oauthStateTTL = 10 * time.Minute

type AuthService struct {
	userRepo *repository.UserRepository
	cache    *cache.Cache
	github   *oauth.GithubOAuth
	cfg      *config.Config
}

func NewAuthService(userRepo *repository.UserRepository, c *cache.Cache, github *oauth.GithubOAuth, cfg *config.Config) *AuthService {
	return &AuthService{
		userRepo: userRepo,
		cache:    c,
		github:   github,
		cfg:      cfg,
	}
}

// Register 注册
func (s *AuthService) Register(req *dto.RegisterRequest) (*dto.AuthResponse, error) {
	if _, err := s.userRepo.GetByUsername(req.Username); err == nil {
		return nil, ErrUserExists
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if _, err := s.userRepo.GetByEmail(req.Email); err == nil {
		return nil, ErrUserExists
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	hashStr := string(hash)
	user := &model.User{
		Username:     req.Username,
		Email:        &req.Email,
		PasswordHash: &hashStr,
	}
	if err := s.userRepo.Create(user); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrUserExists
		}
		return nil, err
	}

	return s.buildAuthResponse(user)
}

// Login 登录
func (s *AuthService) Login(req *dto.LoginRequest) (*dto.AuthResponse, error) {
	user, err := s.userRepo.GetByUsername(req.Username)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if user.PasswordHash == nil {
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(*user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return s.buildAuthResponse(user)
}

// GithubAuthURL 生成授权跳转地址，state 存 redis 防 CSRF
func (s *AuthService) GithubAuthURL(ctx context.Context) (string, error) {
	state := uuid.NewString()
	s.cache.SetWithTTL(ctx, "oauth:state:"+state, []byte("1"), oauthStateTTL)
	return s.github.GetAuthURL(state), nil
}

// GithubCallback 授权回调：换 token、取用户，找到或建立本地账号，
// access token 作为 diff 来源的委托凭证保存
func (s *AuthService) GithubCallback(ctx context.Context, state, code string) (*dto.AuthResponse, error) {
	stateKey := "oauth:state:" + state
	if _, ok := s.cache.Get(ctx, stateKey); !ok {
		return nil, ErrInvalidOAuthState
	}
	s.cache.Delete(ctx, stateKey)

	token, err := s.github.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("oauth exchange failed: %w", err)
	}

	ghUser, err := s.github.GetUser(ctx, token)
	if err != nil {
		return nil, err
	}

	githubID := fmt.Sprintf("%d", ghUser.ID)
	user, err := s.userRepo.GetByGithubID(githubID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		// 首次 GitHub 登录，建账号
		user = &model.User{
			Username:  s.uniqueUsername(ghUser.Login),
			GithubID:  &githubID,
			AvatarURL: ghUser.AvatarURL,
		}
		if ghUser.Email != "" {
			user.Email = &ghUser.Email
		}
		accessToken := token.AccessToken
		user.GithubToken = &accessToken
		if err := s.userRepo.Create(user); err != nil {
			return nil, err
		}
	} else {
		// 每次登录刷新委托凭证
		if err := s.userRepo.UpdateGithubToken(user.ID, token.AccessToken); err != nil {
			return nil, err
		}
	}

	return s.buildAuthResponse(user)
}

func (s *AuthService) buildAuthResponse(user *model.User) (*dto.AuthResponse, error) {
	token, err := jwt.GenerateToken(user.ID, s.cfg.JWT.Secret, s.cfg.JWT.ExpireHours)
	if err != nil {
		return nil, err
	}

	info := &dto.UserInfo{
		ID:        user.ID,
		Username:  user.Username,
		AvatarURL: user.AvatarURL,
		HasGithub: user.GithubToken != nil && *user.GithubToken != "",
	}
	if user.Email != nil {
		info.Email = *user.Email
	}

	return &dto.AuthResponse{Token: token, User: info}, nil
}

// uniqueUsername GitHub 用户名可能和本地已有用户冲突，追加短后缀
func (s *AuthService) uniqueUsername(login string) string {
	if _, err := s.userRepo.GetByUsername(login); errors.Is(err, gorm.ErrRecordNotFound) {
		return login
	}
	return fmt.Sprintf("%s_%s", login, uuid.NewString()[:8])
}
