package model

import "time"

// Student is an entry of the student directory. ID is the auth-system identifier.
type Student struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateStudentRequest registers a student in the directory.
type CreateStudentRequest struct {
	ID    string `json:"id" binding:"required,min=1,max=100"`
	Name  string `json:"name" binding:"required,min=2,max=100"`
	Email string `json:"email" binding:"required,email"`
}
