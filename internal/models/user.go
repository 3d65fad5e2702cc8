package models

import "time"

const (
	RolePatient      = "paciente"
	RolePsychologist = "psicologo"
)

type User struct {
	ID           int64     `json:"id"`
	Name         string    `json:"nome"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	PhotoURL     *string   `json:"foto_url,omitempty"`
	CreatedAt    time.Time `json:"criado_em"`
	UpdatedAt    time.Time `json:"atualizado_em"`
}
