package services

import (
	"fmt"

	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/auth"
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/llm"
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/mailer"
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/oauth"
)

// ServiceManager exposes every service the HTTP layer talks to
type ServiceManager interface {
	Identity() IdentityService
	Login() LoginService
	OAuth() OAuthService
	Profile() ProfileService
	Approval() ApprovalService
	Chat() ChatService
	Upload() UploadService
	Export() ExportService
	Routes() *RouteGuard
	Tokens() *auth.TokenManager
}

// ManagerConfig carries the collaborators built outside the services package.
// OAuthProvider and VisionModel may be nil.
type ManagerConfig struct {
	Mailer         mailer.Mailer
	OAuthProvider  oauth.Provider
	OAuthRedirect  string
	ChatModel      llm.ChatModel
	VisionModel    llm.VisionModel
	Tokens         *auth.TokenManager
	Questions      *SecurityQuestionSet
	IdentityConfig IdentityConfig
	ProfileConfig  ProfileConfig
	UploadConfig   UploadConfig
}

type serviceManager struct {
	identity IdentityService
	login    LoginService
	oauth    OAuthService
	profile  ProfileService
	approval ApprovalService
	chat     ChatService
	upload   UploadService
	export   ExportService
	routes   *RouteGuard
	tokens   *auth.TokenManager
}

func NewServiceManager(deps Deps, cfg ManagerConfig) (ServiceManager, error) {
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("token manager is required")
	}
	if cfg.ChatModel == nil {
		return nil, fmt.Errorf("chat model is required")
	}
	if cfg.Mailer == nil {
		cfg.Mailer = mailer.NewLogMailer("", deps.Logger)
	}
	questions := cfg.Questions
	if questions == nil {
		questions = NewSecurityQuestionSet(nil)
	}

	uploads, err := NewUploadService(deps, cfg.UploadConfig)
	if err != nil {
		return nil, err
	}

	tracker := NewLockoutTracker(deps.Cache, questions, deps.Now)
	identity := NewIdentityService(deps, cfg.Mailer, cfg.IdentityConfig)
	chat := NewChatService(deps, cfg.ChatModel, cfg.VisionModel, uploads)

	return &serviceManager{
		identity: identity,
		login:    NewLoginService(deps, identity, tracker, questions, cfg.Tokens),
		oauth:    NewOAuthService(deps, cfg.OAuthProvider, cfg.OAuthRedirect, identity, tracker, questions, cfg.Tokens),
		profile:  NewProfileService(deps, cfg.ProfileConfig),
		approval: NewApprovalService(deps),
		chat:     chat,
		upload:   uploads,
		export:   NewExportService(deps, chat),
		routes:   NewRouteGuard(),
		tokens:   cfg.Tokens,
	}, nil
}

func (m *serviceManager) Identity() IdentityService { return m.identity }
func (m *serviceManager) Login() LoginService { return m.login }
func (m *serviceManager) OAuth() OAuthService { return m.oauth }
func (m *serviceManager) Profile() ProfileService { return m.profile }
func (m *serviceManager) Approval() ApprovalService { return m.approval }
func (m *serviceManager) Chat() ChatService { return m.chat }
func (m *serviceManager) Upload() UploadService { return m.upload }
func (m *serviceManager) Export() ExportService { return m.export }
func (m *serviceManager) Routes() *RouteGuard { return m.routes }
func (m *serviceManager) Tokens() *auth.TokenManager { return m.tokens }
