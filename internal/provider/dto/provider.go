package dto

import (
	providerdomain "fintrack-backend/internal/provider/domain"
)

type AuthURLResponse struct {
	AuthURL string `json:"auth_url"`
}

type ProvidersResponse struct {
	Providers []*providerdomain.EmailProvider `json:"providers"`
}

type ConnectIMAPRequest struct {
	Host     string `json:"host" binding:"required"`
	Port     int    `json:"port"`
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}
