package model

// User holds the fields of a platform user that background tasks read
type User struct {
	ID            string `json:"id" bson:"_id"`
	FirstName     string `json:"firstName" bson:"first_name"`
	CountryCode   string `json:"countryCode,omitempty" bson:"country_code,omitempty"`
	Phone         string `json:"phone,omitempty" bson:"phone,omitempty"` // encrypted at rest
	PhoneVerified bool   `json:"phoneVerified" bson:"phone_verified"`
	Email         string `json:"email,omitempty" bson:"email,omitempty"`
	RootOrgID     string `json:"rootOrgId,omitempty" bson:"root_org_id,omitempty"`
	Status        int    `json:"status" bson:"status"`
}
