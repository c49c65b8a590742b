package handlers

import (
	"time"

	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/models"
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/services"
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/utils"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

type HandlerManager struct {
	services        services.ServiceManager
	authHandler     *AuthHandler
	profileHandler  *ProfileHandler
	approvalHandler *ApprovalHandler
	chatHandler     *ChatHandler
	routeHandler    *RouteHandler
}

func NewHandlerManager(serviceManager services.ServiceManager, logger utils.Logger) *HandlerManager {
	return &HandlerManager{
		services:        serviceManager,
		authHandler:     NewAuthHandler(serviceManager.Identity(), serviceManager.Login(), serviceManager.OAuth(), logger),
		profileHandler:  NewProfileHandler(serviceManager.Profile(), logger),
		approvalHandler: NewApprovalHandler(serviceManager.Approval(), serviceManager.Export(), logger),
		chatHandler:     NewChatHandler(serviceManager.Chat(), serviceManager.Export(), logger),
		routeHandler:    NewRouteHandler(serviceManager.Routes(), logger),
	}
}

// NewRouter builds the engine with logging, CORS and every route
func NewRouter(serviceManager services.ServiceManager, logger utils.Logger, allowedOrigins []string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(utils.ContextLogger(logger))
	router.Use(utils.LoggerMiddleware(logger))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", ClientIDHeader, utils.RequestIDHeader},
		ExposeHeaders:    []string{"Content-Disposition", utils.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	NewHandlerManager(serviceManager, logger).SetupRoutes(router)
	return router
}

// SetupRoutes sets up all API routes
func (hm *HandlerManager) SetupRoutes(router *gin.Engine) {
	router.GET("/health", HealthCheck)
	router.Static("/uploads", hm.services.Upload().Dir())

	// Legacy student chat endpoints
	router.POST("/chat", hm.OptionalAuth(), hm.chatHandler.Send(models.PersonaStudent))
	router.GET("/history", hm.OptionalAuth(), hm.chatHandler.History(models.PersonaStudent))

	api := router.Group("/api")
	{
		authGroup := api.Group("/auth")
		{
			authGroup.POST("/signup", hm.authHandler.Signup)
			authGroup.POST("/confirm", hm.authHandler.ConfirmEmail)
			authGroup.POST("/resend-confirmation", hm.authHandler.ResendConfirmation)
			authGroup.POST("/password/forgot", hm.authHandler.ForgotPassword)
			authGroup.POST("/password/reset", hm.authHandler.ResetPassword)
			authGroup.POST("/login", hm.authHandler.Login)
			authGroup.GET("/status", hm.authHandler.Status)
			authGroup.POST("/refresh", hm.authHandler.Refresh)
			authGroup.POST("/logout", hm.AuthRequired(), hm.authHandler.Logout)
			authGroup.GET("/oauth/start", hm.authHandler.OAuthStart)
			authGroup.GET("/oauth/callback", hm.authHandler.OAuthCallback)
			authGroup.POST("/oauth/callback", hm.authHandler.OAuthCallback)
			authGroup.GET("/security-questions/:role", hm.authHandler.SecurityQuestions)
			authGroup.POST("/security-answers", hm.AuthRequired(), hm.authHandler.EnrollSecurityAnswers)
		}

		profile := api.Group("/profile", hm.AuthRequired())
		{
			profile.POST("/complete", hm.profileHandler.Complete)
			profile.GET("/me", hm.profileHandler.Me)
		}

		approvals := api.Group("/teacher-approvals", hm.AuthRequired(), RequireRoles(models.RoleHOD, models.RoleAdmin))
		{
			approvals.GET("", hm.approvalHandler.List)
			approvals.GET("/export", hm.approvalHandler.Export)
			approvals.POST("/:email/approve", hm.approvalHandler.Approve)
			approvals.POST("/:email/reject", hm.approvalHandler.Reject)
		}

		chat := api.Group("/chat")
		{
			student := chat.Group("/student", hm.OptionalAuth())
			{
				student.POST("", hm.chatHandler.Send(models.PersonaStudent))
				student.GET("/history", hm.chatHandler.History(models.PersonaStudent))
				student.POST("/clear", hm.chatHandler.Clear)
				student.GET("/clear", hm.chatHandler.Clear)
				student.GET("/export", hm.chatHandler.Export)
			}

			teacher := chat.Group("/teacher", hm.OptionalAuth())
			{
				teacher.POST("", hm.chatHandler.Send(models.PersonaTeacher))
				teacher.GET("/history", hm.chatHandler.History(models.PersonaTeacher))
				teacher.POST("/clear", hm.chatHandler.Clear)
				teacher.GET("/clear", hm.chatHandler.Clear)
				teacher.GET("/export", hm.chatHandler.Export)
			}
		}

		routes := api.Group("/routes")
		{
			routes.GET("", hm.routeHandler.List)
			routes.GET("/check", hm.OptionalAuth(), hm.routeHandler.Check)
		}
	}
}
