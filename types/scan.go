package types

import "time"

// Scan is one immutable record of a classification result attributed
// to a user. Scans are append-only: they are created once by the
// predict pipeline and never updated or deleted.
type Scan struct {
	// ID is the unique identifier of the scan.
	ID int `json:"id" db:"id"`

	// UserID references the owning user. Every scan belongs to an
	// account that existed when the scan was recorded.
	UserID int `json:"user_id" db:"user_id"`

	// Prediction is the class label produced by the classifier.
	Prediction string `json:"prediction" db:"prediction"`

	// Confidence is the maximum value of the classifier's output
	// probability vector, always within [0, 1].
	Confidence float64 `json:"confidence" db:"confidence"`

	// ImageFilename is the object storage key of the uploaded image,
	// empty when image retention is disabled.
	ImageFilename string `json:"image_filename,omitempty" db:"image_filename"`

	// CreatedAt is the timestamp at which the scan was recorded.
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
