package license

import (
	"time"

	"gorm.io/datatypes"
)

type LicenseType string

var (
	Trial        LicenseType = "trial"
	Standard     LicenseType = "standard"
	Professional LicenseType = "professional"
	Enterprise   LicenseType = "enterprise"
)

func (t LicenseType) String() string {
	switch t {
	case Trial, Standard, Professional, Enterprise:
		return string(t)
	default:
		return ""
	}
}

func (t LicenseType) IsValid() bool {
	return t.String() != ""
}

type LicenseStatus string

var (
	Pending LicenseStatus = "pending"
	Active  LicenseStatus = "active"
	Expired LicenseStatus = "expired"
	Revoked LicenseStatus = "revoked"
)

func (s LicenseStatus) String() string {
	switch s {
	case Pending, Active, Expired, Revoked:
		return string(s)
	default:
		return ""
	}
}

func (s LicenseStatus) IsValid() bool {
	return s.String() != ""
}

type License struct {
	ID                  int64                       `gorm:"column:id;primaryKey;autoIncrement:false" json:"id"`
	CreatedAt           time.Time                   `gorm:"column:created_at" json:"created_at"`
	UpdatedAt           time.Time                   `gorm:"column:updated_at" json:"updated_at"`
	LicenseKey          string                      `gorm:"column:license_key;uniqueIndex;not null" json:"license_key"`
	Type                LicenseType                 `gorm:"column:type;index;not null" json:"type"`
	Status              LicenseStatus               `gorm:"column:status;index;not null" json:"status"`
	CompanyName         string                      `gorm:"column:company_name" json:"company_name"`
	ContactEmail        string                      `gorm:"column:contact_email" json:"contact_email"`
	MaxUsers            int                         `gorm:"column:max_users" json:"max_users"`
	MaxLines            int                         `gorm:"column:max_lines" json:"max_lines"`
	MaxPlans            int                         `gorm:"column:max_plans" json:"max_plans"`
	Features            datatypes.JSONSlice[string] `gorm:"column:features" json:"features"`
	IssuedAt            time.Time                   `gorm:"column:issued_at" json:"issued_at"`
	ExpiresAt           *time.Time                  `gorm:"column:expires_at;index" json:"expires_at"`
	ActivatedAt         *time.Time                  `gorm:"column:activated_at" json:"activated_at"`
	HardwareFingerprint *string                     `gorm:"column:hardware_fingerprint" json:"hardware_fingerprint"`
	OfflineLicenseFile  *string                     `gorm:"column:offline_license_file;type:text" json:"-"`
	RevokedAt           *time.Time                  `gorm:"column:revoked_at" json:"revoked_at"`
}

func (License) TableName() string {
	return "licenses"
}

// IsExpired reports whether expires_at lies strictly before now. Perpetual
// licenses never expire.
func (m *License) IsExpired(now time.Time) bool {
	return m.ExpiresAt != nil && m.ExpiresAt.Before(now)
}

// EffectiveStatus is the status every read path must use: a stored
// pending/active row past its expiry reads as expired, revoked always wins.
func (m *License) EffectiveStatus(now time.Time) LicenseStatus {
	if m.Status == Revoked {
		return Revoked
	}
	if m.IsExpired(now) {
		return Expired
	}
	return m.Status
}

// BoundToOther reports whether the license is bound to a machine other than fp.
func (m *License) BoundToOther(fp string) bool {
	return m.HardwareFingerprint != nil && *m.HardwareFingerprint != fp
}

func (m *License) HasFeature(feature string) bool {
	for _, f := range m.Features {
		if f == feature {
			return true
		}
	}
	return false
}
