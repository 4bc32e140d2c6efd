package database

// ACLEntry is the durable row backing acl.Entry. UserID is nullable; when
// unset, Group carries one of the special tokens ("all", "auth", "in",
// "out", "$hashhex", "#token") or a named channel group (§4.7 "group membership").
type ACLEntry struct {
	ID        int64  `gorm:"primarykey"`
	ServerID  uint64 `gorm:"not null;index"`
	ChannelID int64  `gorm:"not null;index"`
	UserID    *int64
	Group     string
	ApplyHere bool
	ApplySubs bool
	Allow     uint32
	Deny      uint32
	Position  int32
}

func (ACLEntry) TableName() string { return "acl_entries" }

// ChannelGroup is the durable row backing acl.Group.
type ChannelGroup struct {
	ID          int64  `gorm:"primarykey"`
	ServerID    uint64 `gorm:"not null;index"`
	ChannelID   int64  `gorm:"not null;index"`
	Name        string `gorm:"not null"`
	Inherit     bool
	Inheritable bool `gorm:"default:true"`
}

func (ChannelGroup) TableName() string { return "channel_groups" }

// GroupMember is one add/remove membership row for a ChannelGroup.
type GroupMember struct {
	GroupID int64 `gorm:"primarykey"`
	UserID  int64 `gorm:"primarykey"`
	Remove  bool  // true if this row is a "remove" entry rather than "add"
}

func (GroupMember) TableName() string { return "channel_group_members" }

func (d *DbTx) ACLRead(sid uint64, channelID int64) ([]ACLEntry, error) {
	var entries []ACLEntry
	err := d.db.Order("position asc").Find(&entries, "server_id = ? AND channel_id = ?", sid, channelID).Error
	return entries, err
}

// ACLWrite replaces the full ACL entry list for a channel, matching the
// teacher's BanWrite delete-then-create replace semantics.
func (d *DbTx) ACLWrite(sid uint64, channelID int64, entries []ACLEntry) error {
	if err := d.db.Delete(&ACLEntry{}, "server_id = ? AND channel_id = ?", sid, channelID).Error; err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	return d.db.Create(entries).Error
}

func (d *DbTx) GroupsRead(sid uint64, channelID int64) ([]ChannelGroup, error) {
	var groups []ChannelGroup
	err := d.db.Find(&groups, "server_id = ? AND channel_id = ?", sid, channelID).Error
	return groups, err
}

func (d *DbTx) GroupWrite(sid uint64, channelID int64, groups []ChannelGroup) error {
	if err := d.db.Delete(&ChannelGroup{}, "server_id = ? AND channel_id = ?", sid, channelID).Error; err != nil {
		return err
	}
	if len(groups) == 0 {
		return nil
	}
	return d.db.Create(groups).Error
}

func (d *DbTx) GroupMembersRead(groupID int64) ([]GroupMember, error) {
	var members []GroupMember
	err := d.db.Find(&members, "group_id = ?", groupID).Error
	return members, err
}

func (d *DbTx) GroupMembersWrite(groupID int64, members []GroupMember) error {
	if err := d.db.Delete(&GroupMember{}, "group_id = ?", groupID).Error; err != nil {
		return err
	}
	if len(members) == 0 {
		return nil
	}
	return d.db.Create(members).Error
}
