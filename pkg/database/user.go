package database

import "time"

// User is a registered identity (§3 "User"): a certificate-hash-keyed
// account with an optional password hash for fallback authentication.
type User struct {
	ID           int64  `gorm:"primarykey"`
	ServerID     uint64 `gorm:"not null;index"`
	Server       *Server `gorm:"constraint:OnDelete:CASCADE;"`
	Name         string  `gorm:"not null;uniqueIndex:idx_user_name_per_server"`
	CertHash     string  `gorm:"index"`
	PasswordHash string
	Email        string
	LastActive   time.Time
	LastChannel  int64
}

func (User) TableName() string { return "users" }

func (d *DbTx) UserByID(sid uint64, id int64) (*User, error) {
	var u User
	err := d.db.First(&u, "server_id = ? AND id = ?", sid, id).Error
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (d *DbTx) UserByCertHash(sid uint64, hash string) (*User, error) {
	var u User
	err := d.db.First(&u, "server_id = ? AND cert_hash = ?", sid, hash).Error
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (d *DbTx) UserByName(sid uint64, name string) (*User, error) {
	var u User
	err := d.db.First(&u, "server_id = ? AND name = ?", sid, name).Error
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (d *DbTx) UserCreate(u *User) error {
	return d.db.Create(u).Error
}

func (d *DbTx) UserUpdate(u *User) error {
	return d.db.Save(u).Error
}

func (d *DbTx) UserDelete(sid uint64, id int64) error {
	return d.db.Delete(&User{}, "server_id = ? AND id = ?", sid, id).Error
}

func (d *DbTx) UserList(sid uint64) ([]User, error) {
	var users []User
	err := d.db.Find(&users, "server_id = ?", sid).Error
	return users, err
}
