package mumbleproto

import "google.golang.org/protobuf/encoding/protowire"

// MessageType identifies a Mumble control-channel message as carried in the
// 16-bit type field of the TCP frame header (§4.2).
type MessageType uint16

const (
	MessageVersion                MessageType = 0
	MessageUDPTunnel               MessageType = 1
	MessageAuthenticate             MessageType = 2
	MessagePing                     MessageType = 3
	MessageReject                   MessageType = 4
	MessageServerSync               MessageType = 5
	MessageChannelRemove            MessageType = 6
	MessageChannelState             MessageType = 7
	MessageUserRemove               MessageType = 8
	MessageUserState                MessageType = 9
	MessageBanList                  MessageType = 10
	MessageTextMessage              MessageType = 11
	MessagePermissionDenied         MessageType = 12
	MessageACL                      MessageType = 13
	MessageQueryUsers               MessageType = 14
	MessageCryptSetup               MessageType = 15
	MessageContextActionModify      MessageType = 16
	MessageContextAction            MessageType = 17
	MessageUserList                 MessageType = 18
	MessageVoiceTarget              MessageType = 19
	MessagePermissionQuery          MessageType = 20
	MessageCodecVersion             MessageType = 21
	MessageUserStats                MessageType = 22
	MessageRequestBlob              MessageType = 23
	MessageServerConfig             MessageType = 24
	MessageSuggestConfig            MessageType = 25
	MessagePluginDataTransmission   MessageType = 26
)

// Message is implemented by every typed control-channel payload.
type Message interface {
	Marshal() ([]byte, error)
	Unmarshal([]byte) error
}

// ---- Version ----

type Version struct {
	VersionV1   *uint32
	VersionV2   *uint64
	Release     *string
	Os          *string
	OsVersion   *string
	CryptoModes []string
}

func (m *Version) Marshal() ([]byte, error) {
	var b []byte
	b = appendUint32(b, 1, m.VersionV1)
	b = appendString(b, 2, m.Release)
	b = appendString(b, 3, m.Os)
	b = appendString(b, 4, m.OsVersion)
	b = appendUint64(b, 5, m.VersionV2)
	b = appendRepeatedString(b, 6, m.CryptoModes)
	return b, nil
}

func (m *Version) Unmarshal(data []byte) error {
	return decodeFields(data, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			x := takeVarintUint32(v)
			m.VersionV1 = &x
		case 2:
			x := takeBytesString(v)
			m.Release = &x
		case 3:
			x := takeBytesString(v)
			m.Os = &x
		case 4:
			x := takeBytesString(v)
			m.OsVersion = &x
		case 5:
			x := takeVarintUint64(v)
			m.VersionV2 = &x
		case 6:
			m.CryptoModes = append(m.CryptoModes, takeBytesString(v))
		}
		return nil
	})
}

// ---- Authenticate ----

type Authenticate struct {
	Username     *string
	Password     *string
	Tokens       []string
	CeltVersions []int32
	Opus         *bool
	ClientType   *int32
}

func (m *Authenticate) Marshal() ([]byte, error) {
	var b []byte
	b = appendString(b, 1, m.Username)
	b = appendString(b, 2, m.Password)
	b = appendRepeatedString(b, 3, m.Tokens)
	b = appendRepeatedInt32(b, 4, m.CeltVersions)
	b = appendBool(b, 5, m.Opus)
	b = appendInt32(b, 6, m.ClientType)
	return b, nil
}

func (m *Authenticate) Unmarshal(data []byte) error {
	return decodeFields(data, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			x := takeBytesString(v)
			m.Username = &x
		case 2:
			x := takeBytesString(v)
			m.Password = &x
		case 3:
			m.Tokens = append(m.Tokens, takeBytesString(v))
		case 4:
			m.CeltVersions = append(m.CeltVersions, takeVarintInt32(v))
		case 5:
			x := takeVarintBool(v)
			m.Opus = &x
		case 6:
			x := takeVarintInt32(v)
			m.ClientType = &x
		}
		return nil
	})
}

// ---- Ping ----

type Ping struct {
	Timestamp          *uint64
	Good                *uint32
	Late                *uint32
	Lost                *uint32
	Resync              *uint32
	UdpPacketsReceived  *uint32
	UdpPingAvg          *float32
	UdpPingVar          *float32
	TcpPacketsReceived  *uint32
	TcpPingAvg          *float32
	TcpPingVar          *float32
}

func (m *Ping) Marshal() ([]byte, error) {
	var b []byte
	b = appendUint64(b, 1, m.Timestamp)
	b = appendUint32(b, 2, m.Good)
	b = appendUint32(b, 3, m.Late)
	b = appendUint32(b, 4, m.Lost)
	b = appendUint32(b, 5, m.Resync)
	b = appendUint32(b, 6, m.UdpPacketsReceived)
	b = appendFloat32(b, 7, m.UdpPingAvg)
	b = appendFloat32(b, 8, m.UdpPingVar)
	b = appendUint32(b, 9, m.TcpPacketsReceived)
	b = appendFloat32(b, 10, m.TcpPingAvg)
	b = appendFloat32(b, 11, m.TcpPingVar)
	return b, nil
}

func (m *Ping) Unmarshal(data []byte) error {
	return decodeFields(data, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			x := takeVarintUint64(v)
			m.Timestamp = &x
		case 2:
			x := takeVarintUint32(v)
			m.Good = &x
		case 3:
			x := takeVarintUint32(v)
			m.Late = &x
		case 4:
			x := takeVarintUint32(v)
			m.Lost = &x
		case 5:
			x := takeVarintUint32(v)
			m.Resync = &x
		case 6:
			x := takeVarintUint32(v)
			m.UdpPacketsReceived = &x
		case 7:
			x := takeFixed32Float(v)
			m.UdpPingAvg = &x
		case 8:
			x := takeFixed32Float(v)
			m.UdpPingVar = &x
		case 9:
			x := takeVarintUint32(v)
			m.TcpPacketsReceived = &x
		case 10:
			x := takeFixed32Float(v)
			m.TcpPingAvg = &x
		case 11:
			x := takeFixed32Float(v)
			m.TcpPingVar = &x
		}
		return nil
	})
}

// ---- Reject ----

type Reject struct {
	Type   *int32
	Reason *string
}

const (
	RejectNone        int32 = 0
	RejectWrongVersion int32 = 1
	RejectWrongUserPW  int32 = 5
	RejectUsernameInUse int32 = 6
	RejectServerFull    int32 = 7
)

func (m *Reject) Marshal() ([]byte, error) {
	var b []byte
	b = appendInt32(b, 1, m.Type)
	b = appendString(b, 2, m.Reason)
	return b, nil
}

func (m *Reject) Unmarshal(data []byte) error {
	return decodeFields(data, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			x := takeVarintInt32(v)
			m.Type = &x
		case 2:
			x := takeBytesString(v)
			m.Reason = &x
		}
		return nil
	})
}

// ---- ServerSync ----

type ServerSync struct {
	Session      *uint32
	MaxBandwidth *uint32
	WelcomeText  *string
	Permissions  *uint64
}

func (m *ServerSync) Marshal() ([]byte, error) {
	var b []byte
	b = appendUint32(b, 1, m.Session)
	b = appendUint32(b, 2, m.MaxBandwidth)
	b = appendString(b, 3, m.WelcomeText)
	b = appendUint64(b, 4, m.Permissions)
	return b, nil
}

func (m *ServerSync) Unmarshal(data []byte) error {
	return decodeFields(data, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			x := takeVarintUint32(v)
			m.Session = &x
		case 2:
			x := takeVarintUint32(v)
			m.MaxBandwidth = &x
		case 3:
			x := takeBytesString(v)
			m.WelcomeText = &x
		case 4:
			x := takeVarintUint64(v)
			m.Permissions = &x
		}
		return nil
	})
}

// ---- ChannelRemove ----

type ChannelRemove struct {
	ChannelId *uint32
}

func (m *ChannelRemove) Marshal() ([]byte, error) {
	var b []byte
	b = appendUint32(b, 1, m.ChannelId)
	return b, nil
}

func (m *ChannelRemove) Unmarshal(data []byte) error {
	return decodeFields(data, func(num protowire.Number, typ protowire.Type, v []byte) error {
		if num == 1 {
			x := takeVarintUint32(v)
			m.ChannelId = &x
		}
		return nil
	})
}

// ---- ChannelState ----

type ChannelState struct {
	ChannelId       *uint32
	Parent          *uint32
	Name            *string
	Links           []uint32
	Description     *string
	LinksAdd        []uint32
	LinksRemove     []uint32
	Temporary       *bool
	Position        *int32
	DescriptionHash []byte
	MaxUsers        *uint32
}

func (m *ChannelState) Marshal() ([]byte, error) {
	var b []byte
	b = appendUint32(b, 1, m.ChannelId)
	b = appendUint32(b, 2, m.Parent)
	b = appendString(b, 3, m.Name)
	b = appendRepeatedUint32(b, 4, m.Links)
	b = appendString(b, 5, m.Description)
	b = appendRepeatedUint32(b, 6, m.LinksAdd)
	b = appendRepeatedUint32(b, 7, m.LinksRemove)
	b = appendBool(b, 8, m.Temporary)
	b = appendInt32(b, 9, m.Position)
	b = appendBytes(b, 10, m.DescriptionHash)
	b = appendUint32(b, 11, m.MaxUsers)
	return b, nil
}

func (m *ChannelState) Unmarshal(data []byte) error {
	return decodeFields(data, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			x := takeVarintUint32(v)
			m.ChannelId = &x
		case 2:
			x := takeVarintUint32(v)
			m.Parent = &x
		case 3:
			x := takeBytesString(v)
			m.Name = &x
		case 4:
			m.Links = append(m.Links, takeVarintUint32(v))
		case 5:
			x := takeBytesString(v)
			m.Description = &x
		case 6:
			m.LinksAdd = append(m.LinksAdd, takeVarintUint32(v))
		case 7:
			m.LinksRemove = append(m.LinksRemove, takeVarintUint32(v))
		case 8:
			x := takeVarintBool(v)
			m.Temporary = &x
		case 9:
			x := takeVarintInt32(v)
			m.Position = &x
		case 10:
			m.DescriptionHash = append([]byte(nil), v...)
		case 11:
			x := takeVarintUint32(v)
			m.MaxUsers = &x
		}
		return nil
	})
}

// ---- UserRemove ----

type UserRemove struct {
	Session *uint32
	Actor   *uint32
	Reason  *string
	Ban     *bool
}

func (m *UserRemove) Marshal() ([]byte, error) {
	var b []byte
	b = appendUint32(b, 1, m.Session)
	b = appendUint32(b, 2, m.Actor)
	b = appendString(b, 3, m.Reason)
	b = appendBool(b, 4, m.Ban)
	return b, nil
}

func (m *UserRemove) Unmarshal(data []byte) error {
	return decodeFields(data, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			x := takeVarintUint32(v)
			m.Session = &x
		case 2:
			x := takeVarintUint32(v)
			m.Actor = &x
		case 3:
			x := takeBytesString(v)
			m.Reason = &x
		case 4:
			x := takeVarintBool(v)
			m.Ban = &x
		}
		return nil
	})
}

// ---- UserState ----

type UserState struct {
	Session                *uint32
	Actor                  *uint32
	Name                   *string
	UserId                 *uint32
	ChannelId              *uint32
	Mute                   *bool
	Deaf                   *bool
	Suppress               *bool
	SelfMute               *bool
	SelfDeaf               *bool
	PluginContext          []byte
	PluginIdentity         *string
	Comment                *string
	CommentHash            []byte
	TextureHash            []byte
	PrioritySpeaker        *bool
	Recording              *bool
	TemporaryAccessTokens  []string
	ListeningChannelAdd    []uint32
	ListeningChannelRemove []uint32
}

func (m *UserState) Marshal() ([]byte, error) {
	var b []byte
	b = appendUint32(b, 1, m.Session)
	b = appendUint32(b, 2, m.Actor)
	b = appendString(b, 3, m.Name)
	b = appendUint32(b, 4, m.UserId)
	b = appendUint32(b, 5, m.ChannelId)
	b = appendBool(b, 6, m.Mute)
	b = appendBool(b, 7, m.Deaf)
	b = appendBool(b, 8, m.Suppress)
	b = appendBool(b, 9, m.SelfMute)
	b = appendBool(b, 10, m.SelfDeaf)
	b = appendBytes(b, 11, m.PluginContext)
	b = appendString(b, 12, m.PluginIdentity)
	b = appendString(b, 13, m.Comment)
	b = appendBytes(b, 14, m.CommentHash)
	b = appendBytes(b, 15, m.TextureHash)
	b = appendBool(b, 16, m.PrioritySpeaker)
	b = appendBool(b, 17, m.Recording)
	b = appendRepeatedString(b, 18, m.TemporaryAccessTokens)
	b = appendRepeatedUint32(b, 19, m.ListeningChannelAdd)
	b = appendRepeatedUint32(b, 20, m.ListeningChannelRemove)
	return b, nil
}

func (m *UserState) Unmarshal(data []byte) error {
	return decodeFields(data, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			x := takeVarintUint32(v)
			m.Session = &x
		case 2:
			x := takeVarintUint32(v)
			m.Actor = &x
		case 3:
			x := takeBytesString(v)
			m.Name = &x
		case 4:
			x := takeVarintUint32(v)
			m.UserId = &x
		case 5:
			x := takeVarintUint32(v)
			m.ChannelId = &x
		case 6:
			x := takeVarintBool(v)
			m.Mute = &x
		case 7:
			x := takeVarintBool(v)
			m.Deaf = &x
		case 8:
			x := takeVarintBool(v)
			m.Suppress = &x
		case 9:
			x := takeVarintBool(v)
			m.SelfMute = &x
		case 10:
			x := takeVarintBool(v)
			m.SelfDeaf = &x
		case 11:
			m.PluginContext = append([]byte(nil), v...)
		case 12:
			x := takeBytesString(v)
			m.PluginIdentity = &x
		case 13:
			x := takeBytesString(v)
			m.Comment = &x
		case 14:
			m.CommentHash = append([]byte(nil), v...)
		case 15:
			m.TextureHash = append([]byte(nil), v...)
		case 16:
			x := takeVarintBool(v)
			m.PrioritySpeaker = &x
		case 17:
			x := takeVarintBool(v)
			m.Recording = &x
		case 18:
			m.TemporaryAccessTokens = append(m.TemporaryAccessTokens, takeBytesString(v))
		case 19:
			m.ListeningChannelAdd = append(m.ListeningChannelAdd, takeVarintUint32(v))
		case 20:
			m.ListeningChannelRemove = append(m.ListeningChannelRemove, takeVarintUint32(v))
		}
		return nil
	})
}

// ---- BanList ----

type BanEntry struct {
	Address  []byte
	Mask     *int32
	Name     *string
	Hash     *string
	Reason   *string
	Start    *string
	Duration *uint32
}

type BanList struct {
	Bans  []*BanEntry
	Query *bool
}

func (m *BanList) Marshal() ([]byte, error) {
	var b []byte
	for _, ban := range m.Bans {
		var eb []byte
		eb = appendBytes(eb, 1, ban.Address)
		eb = appendInt32(eb, 2, ban.Mask)
		eb = appendString(eb, 3, ban.Name)
		eb = appendString(eb, 4, ban.Hash)
		eb = appendString(eb, 5, ban.Reason)
		eb = appendString(eb, 6, ban.Start)
		eb = appendUint32(eb, 7, ban.Duration)
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, eb)
	}
	b = appendBool(b, 2, m.Query)
	return b, nil
}

func (m *BanList) Unmarshal(data []byte) error {
	return decodeFields(data, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			ban := &BanEntry{}
			err := decodeFields(v, func(n protowire.Number, t protowire.Type, fv []byte) error {
				switch n {
				case 1:
					ban.Address = append([]byte(nil), fv...)
				case 2:
					x := takeVarintInt32(fv)
					ban.Mask = &x
				case 3:
					x := takeBytesString(fv)
					ban.Name = &x
				case 4:
					x := takeBytesString(fv)
					ban.Hash = &x
				case 5:
					x := takeBytesString(fv)
					ban.Reason = &x
				case 6:
					x := takeBytesString(fv)
					ban.Start = &x
				case 7:
					x := takeVarintUint32(fv)
					ban.Duration = &x
				}
				return nil
			})
			if err != nil {
				return err
			}
			m.Bans = append(m.Bans, ban)
		case 2:
			x := takeVarintBool(v)
			m.Query = &x
		}
		return nil
	})
}

// ---- TextMessage ----

type TextMessage struct {
	Actor     *uint32
	Session   []uint32
	ChannelId []uint32
	TreeId    []uint32
	Message   *string
}

func (m *TextMessage) Marshal() ([]byte, error) {
	var b []byte
	b = appendUint32(b, 1, m.Actor)
	b = appendRepeatedUint32(b, 2, m.Session)
	b = appendRepeatedUint32(b, 3, m.ChannelId)
	b = appendRepeatedUint32(b, 4, m.TreeId)
	b = appendString(b, 5, m.Message)
	return b, nil
}

func (m *TextMessage) Unmarshal(data []byte) error {
	return decodeFields(data, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			x := takeVarintUint32(v)
			m.Actor = &x
		case 2:
			m.Session = append(m.Session, takeVarintUint32(v))
		case 3:
			m.ChannelId = append(m.ChannelId, takeVarintUint32(v))
		case 4:
			m.TreeId = append(m.TreeId, takeVarintUint32(v))
		case 5:
			x := takeBytesString(v)
			m.Message = &x
		}
		return nil
	})
}

// ---- PermissionDenied ----

type DenyType int32

const (
	DenyPermission          DenyType = 0
	DenySuperUser           DenyType = 1
	DenyChannelName         DenyType = 2
	DenyTextTooLong         DenyType = 3
	DenyTemporaryChannel    DenyType = 4
	DenyMissingCertificate  DenyType = 5
	DenyUserName            DenyType = 6
	DenyChannelFull         DenyType = 7
	DenyPermissionDeniedText DenyType = 8
)

type PermissionDenied struct {
	Permission *uint32
	ChannelId  *uint32
	Session    *uint32
	Reason     *string
	Type       *int32
	Name       *string
}

func (m *PermissionDenied) Marshal() ([]byte, error) {
	var b []byte
	b = appendUint32(b, 1, m.Permission)
	b = appendUint32(b, 2, m.ChannelId)
	b = appendUint32(b, 3, m.Session)
	b = appendString(b, 4, m.Reason)
	b = appendInt32(b, 5, m.Type)
	b = appendString(b, 6, m.Name)
	return b, nil
}

func (m *PermissionDenied) Unmarshal(data []byte) error {
	return decodeFields(data, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			x := takeVarintUint32(v)
			m.Permission = &x
		case 2:
			x := takeVarintUint32(v)
			m.ChannelId = &x
		case 3:
			x := takeVarintUint32(v)
			m.Session = &x
		case 4:
			x := takeBytesString(v)
			m.Reason = &x
		case 5:
			x := takeVarintInt32(v)
			m.Type = &x
		case 6:
			x := takeBytesString(v)
			m.Name = &x
		}
		return nil
	})
}

// ---- ACL ----

type ACLGroup struct {
	Name             *string
	Inherit          *bool
	Inheritable      *bool
	Add              []uint32
	Remove           []uint32
	InheritedMembers []uint32
}

type ACLEntry struct {
	ApplyHere *bool
	ApplySubs *bool
	Inherited *bool
	UserId    *uint32
	Group     *string
	Grant     *uint32
	Deny      *uint32
}

type ACL struct {
	ChannelId   *uint32
	InheritAcls *bool
	Groups      []*ACLGroup
	Acls        []*ACLEntry
	Query       *bool
}

func (m *ACL) Marshal() ([]byte, error) {
	var b []byte
	b = appendUint32(b, 1, m.ChannelId)
	b = appendBool(b, 2, m.InheritAcls)
	for _, g := range m.Groups {
		var gb []byte
		gb = appendString(gb, 1, g.Name)
		gb = appendBool(gb, 2, g.Inherit)
		gb = appendBool(gb, 3, g.Inheritable)
		gb = appendRepeatedUint32(gb, 4, g.Add)
		gb = appendRepeatedUint32(gb, 5, g.Remove)
		gb = appendRepeatedUint32(gb, 6, g.InheritedMembers)
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, gb)
	}
	for _, a := range m.Acls {
		var ab []byte
		ab = appendBool(ab, 1, a.ApplyHere)
		ab = appendBool(ab, 2, a.ApplySubs)
		ab = appendBool(ab, 3, a.Inherited)
		ab = appendUint32(ab, 4, a.UserId)
		ab = appendString(ab, 5, a.Group)
		ab = appendUint32(ab, 6, a.Grant)
		ab = appendUint32(ab, 7, a.Deny)
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, ab)
	}
	b = appendBool(b, 5, m.Query)
	return b, nil
}

func (m *ACL) Unmarshal(data []byte) error {
	return decodeFields(data, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			x := takeVarintUint32(v)
			m.ChannelId = &x
		case 2:
			x := takeVarintBool(v)
			m.InheritAcls = &x
		case 3:
			g := &ACLGroup{}
			err := decodeFields(v, func(n protowire.Number, t protowire.Type, fv []byte) error {
				switch n {
				case 1:
					x := takeBytesString(fv)
					g.Name = &x
				case 2:
					x := takeVarintBool(fv)
					g.Inherit = &x
				case 3:
					x := takeVarintBool(fv)
					g.Inheritable = &x
				case 4:
					g.Add = append(g.Add, takeVarintUint32(fv))
				case 5:
					g.Remove = append(g.Remove, takeVarintUint32(fv))
				case 6:
					g.InheritedMembers = append(g.InheritedMembers, takeVarintUint32(fv))
				}
				return nil
			})
			if err != nil {
				return err
			}
			m.Groups = append(m.Groups, g)
		case 4:
			a := &ACLEntry{}
			err := decodeFields(v, func(n protowire.Number, t protowire.Type, fv []byte) error {
				switch n {
				case 1:
					x := takeVarintBool(fv)
					a.ApplyHere = &x
				case 2:
					x := takeVarintBool(fv)
					a.ApplySubs = &x
				case 3:
					x := takeVarintBool(fv)
					a.Inherited = &x
				case 4:
					x := takeVarintUint32(fv)
					a.UserId = &x
				case 5:
					x := takeBytesString(fv)
					a.Group = &x
				case 6:
					x := takeVarintUint32(fv)
					a.Grant = &x
				case 7:
					x := takeVarintUint32(fv)
					a.Deny = &x
				}
				return nil
			})
			if err != nil {
				return err
			}
			m.Acls = append(m.Acls, a)
		case 5:
			x := takeVarintBool(v)
			m.Query = &x
		}
		return nil
	})
}

// ---- QueryUsers ----

type QueryUsers struct {
	Ids   []uint32
	Names []string
}

func (m *QueryUsers) Marshal() ([]byte, error) {
	var b []byte
	b = appendRepeatedUint32(b, 1, m.Ids)
	b = appendRepeatedString(b, 2, m.Names)
	return b, nil
}

func (m *QueryUsers) Unmarshal(data []byte) error {
	return decodeFields(data, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			m.Ids = append(m.Ids, takeVarintUint32(v))
		case 2:
			m.Names = append(m.Names, takeBytesString(v))
		}
		return nil
	})
}

// ---- CryptSetup ----

type CryptSetup struct {
	Key         []byte
	ClientNonce []byte
	ServerNonce []byte
}

func (m *CryptSetup) Marshal() ([]byte, error) {
	var b []byte
	b = appendBytes(b, 1, m.Key)
	b = appendBytes(b, 2, m.ClientNonce)
	b = appendBytes(b, 3, m.ServerNonce)
	return b, nil
}

func (m *CryptSetup) Unmarshal(data []byte) error {
	return decodeFields(data, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			m.Key = append([]byte(nil), v...)
		case 2:
			m.ClientNonce = append([]byte(nil), v...)
		case 3:
			m.ServerNonce = append([]byte(nil), v...)
		}
		return nil
	})
}

// ---- ContextActionModify ----

type ContextActionOperation int32

const (
	ContextActionAdd    ContextActionOperation = 0
	ContextActionRemove ContextActionOperation = 1
)

type ContextActionModify struct {
	Action    *string
	Text      *string
	Context   *uint32
	Operation *int32
}

func (m *ContextActionModify) Marshal() ([]byte, error) {
	var b []byte
	b = appendString(b, 1, m.Action)
	b = appendString(b, 2, m.Text)
	b = appendUint32(b, 3, m.Context)
	b = appendInt32(b, 4, m.Operation)
	return b, nil
}

func (m *ContextActionModify) Unmarshal(data []byte) error {
	return decodeFields(data, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			x := takeBytesString(v)
			m.Action = &x
		case 2:
			x := takeBytesString(v)
			m.Text = &x
		case 3:
			x := takeVarintUint32(v)
			m.Context = &x
		case 4:
			x := takeVarintInt32(v)
			m.Operation = &x
		}
		return nil
	})
}

// ---- ContextAction ----

type ContextAction struct {
	Session   *uint32
	ChannelId *uint32
	Action    *string
}

func (m *ContextAction) Marshal() ([]byte, error) {
	var b []byte
	b = appendUint32(b, 1, m.Session)
	b = appendUint32(b, 2, m.ChannelId)
	b = appendString(b, 3, m.Action)
	return b, nil
}

func (m *ContextAction) Unmarshal(data []byte) error {
	return decodeFields(data, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			x := takeVarintUint32(v)
			m.Session = &x
		case 2:
			x := takeVarintUint32(v)
			m.ChannelId = &x
		case 3:
			x := takeBytesString(v)
			m.Action = &x
		}
		return nil
	})
}

// ---- UserList ----

type UserListEntry struct {
	UserId      *uint32
	Name        *string
	LastSeen    *string
	LastChannel *uint32
}

type UserList struct {
	Users []*UserListEntry
}

func (m *UserList) Marshal() ([]byte, error) {
	var b []byte
	for _, u := range m.Users {
		var ub []byte
		ub = appendUint32(ub, 1, u.UserId)
		ub = appendString(ub, 2, u.Name)
		ub = appendString(ub, 3, u.LastSeen)
		ub = appendUint32(ub, 4, u.LastChannel)
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, ub)
	}
	return b, nil
}

func (m *UserList) Unmarshal(data []byte) error {
	return decodeFields(data, func(num protowire.Number, typ protowire.Type, v []byte) error {
		if num != 1 {
			return nil
		}
		u := &UserListEntry{}
		err := decodeFields(v, func(n protowire.Number, t protowire.Type, fv []byte) error {
			switch n {
			case 1:
				x := takeVarintUint32(fv)
				u.UserId = &x
			case 2:
				x := takeBytesString(fv)
				u.Name = &x
			case 3:
				x := takeBytesString(fv)
				u.LastSeen = &x
			case 4:
				x := takeVarintUint32(fv)
				u.LastChannel = &x
			}
			return nil
		})
		if err != nil {
			return err
		}
		m.Users = append(m.Users, u)
		return nil
	})
}

// ---- VoiceTarget ----

type VoiceTargetEntry struct {
	Session   []uint32
	ChannelId *uint32
	Group     *string
	Links     *bool
	Children  *bool
}

type VoiceTarget struct {
	Id      *uint32
	Targets []*VoiceTargetEntry
}

func (m *VoiceTarget) Marshal() ([]byte, error) {
	var b []byte
	b = appendUint32(b, 1, m.Id)
	for _, t := range m.Targets {
		var tb []byte
		tb = appendRepeatedUint32(tb, 1, t.Session)
		tb = appendUint32(tb, 2, t.ChannelId)
		tb = appendString(tb, 3, t.Group)
		tb = appendBool(tb, 4, t.Links)
		tb = appendBool(tb, 5, t.Children)
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, tb)
	}
	return b, nil
}

func (m *VoiceTarget) Unmarshal(data []byte) error {
	return decodeFields(data, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			x := takeVarintUint32(v)
			m.Id = &x
		case 2:
			t := &VoiceTargetEntry{}
			err := decodeFields(v, func(n protowire.Number, tp protowire.Type, fv []byte) error {
				switch n {
				case 1:
					t.Session = append(t.Session, takeVarintUint32(fv))
				case 2:
					x := takeVarintUint32(fv)
					t.ChannelId = &x
				case 3:
					x := takeBytesString(fv)
					t.Group = &x
				case 4:
					x := takeVarintBool(fv)
					t.Links = &x
				case 5:
					x := takeVarintBool(fv)
					t.Children = &x
				}
				return nil
			})
			if err != nil {
				return err
			}
			m.Targets = append(m.Targets, t)
		}
		return nil
	})
}

// ---- PermissionQuery ----

type PermissionQuery struct {
	ChannelId   *uint32
	Permissions *uint32
	Flush       *bool
}

func (m *PermissionQuery) Marshal() ([]byte, error) {
	var b []byte
	b = appendUint32(b, 1, m.ChannelId)
	b = appendUint32(b, 2, m.Permissions)
	b = appendBool(b, 3, m.Flush)
	return b, nil
}

func (m *PermissionQuery) Unmarshal(data []byte) error {
	return decodeFields(data, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			x := takeVarintUint32(v)
			m.ChannelId = &x
		case 2:
			x := takeVarintUint32(v)
			m.Permissions = &x
		case 3:
			x := takeVarintBool(v)
			m.Flush = &x
		}
		return nil
	})
}

// ---- CodecVersion ----

type CodecVersion struct {
	Alpha       *int32
	Beta        *int32
	PreferAlpha *bool
	Opus        *bool
}

func (m *CodecVersion) Marshal() ([]byte, error) {
	var b []byte
	b = appendInt32(b, 1, m.Alpha)
	b = appendInt32(b, 2, m.Beta)
	b = appendBool(b, 3, m.PreferAlpha)
	b = appendBool(b, 4, m.Opus)
	return b, nil
}

func (m *CodecVersion) Unmarshal(data []byte) error {
	return decodeFields(data, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			x := takeVarintInt32(v)
			m.Alpha = &x
		case 2:
			x := takeVarintInt32(v)
			m.Beta = &x
		case 3:
			x := takeVarintBool(v)
			m.PreferAlpha = &x
		case 4:
			x := takeVarintBool(v)
			m.Opus = &x
		}
		return nil
	})
}

// ---- UserStats ----

type UserStats struct {
	Session           *uint32
	StatsOnly         *bool
	UdpPackets        *uint32
	TcpPackets        *uint32
	UdpPingAvg        *float32
	UdpPingVar        *float32
	TcpPingAvg        *float32
	TcpPingVar        *float32
	Address           []byte
	Bandwidth         *uint32
	Onlinesecs        *uint32
	Idlesecs          *uint32
	StrongCertificate *bool
}

func (m *UserStats) Marshal() ([]byte, error) {
	var b []byte
	b = appendUint32(b, 1, m.Session)
	b = appendBool(b, 2, m.StatsOnly)
	b = appendUint32(b, 3, m.UdpPackets)
	b = appendUint32(b, 4, m.TcpPackets)
	b = appendFloat32(b, 5, m.UdpPingAvg)
	b = appendFloat32(b, 6, m.UdpPingVar)
	b = appendFloat32(b, 7, m.TcpPingAvg)
	b = appendFloat32(b, 8, m.TcpPingVar)
	b = appendBytes(b, 9, m.Address)
	b = appendUint32(b, 10, m.Bandwidth)
	b = appendUint32(b, 11, m.Onlinesecs)
	b = appendUint32(b, 12, m.Idlesecs)
	b = appendBool(b, 13, m.StrongCertificate)
	return b, nil
}

func (m *UserStats) Unmarshal(data []byte) error {
	return decodeFields(data, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			x := takeVarintUint32(v)
			m.Session = &x
		case 2:
			x := takeVarintBool(v)
			m.StatsOnly = &x
		case 3:
			x := takeVarintUint32(v)
			m.UdpPackets = &x
		case 4:
			x := takeVarintUint32(v)
			m.TcpPackets = &x
		case 5:
			x := takeFixed32Float(v)
			m.UdpPingAvg = &x
		case 6:
			x := takeFixed32Float(v)
			m.UdpPingVar = &x
		case 7:
			x := takeFixed32Float(v)
			m.TcpPingAvg = &x
		case 8:
			x := takeFixed32Float(v)
			m.TcpPingVar = &x
		case 9:
			m.Address = append([]byte(nil), v...)
		case 10:
			x := takeVarintUint32(v)
			m.Bandwidth = &x
		case 11:
			x := takeVarintUint32(v)
			m.Onlinesecs = &x
		case 12:
			x := takeVarintUint32(v)
			m.Idlesecs = &x
		case 13:
			x := takeVarintBool(v)
			m.StrongCertificate = &x
		}
		return nil
	})
}

// ---- RequestBlob ----

type RequestBlob struct {
	SessionTexture     []uint32
	SessionComment     []uint32
	ChannelDescription []uint32
}

func (m *RequestBlob) Marshal() ([]byte, error) {
	var b []byte
	b = appendRepeatedUint32(b, 1, m.SessionTexture)
	b = appendRepeatedUint32(b, 2, m.SessionComment)
	b = appendRepeatedUint32(b, 3, m.ChannelDescription)
	return b, nil
}

func (m *RequestBlob) Unmarshal(data []byte) error {
	return decodeFields(data, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			m.SessionTexture = append(m.SessionTexture, takeVarintUint32(v))
		case 2:
			m.SessionComment = append(m.SessionComment, takeVarintUint32(v))
		case 3:
			m.ChannelDescription = append(m.ChannelDescription, takeVarintUint32(v))
		}
		return nil
	})
}

// ---- ServerConfig ----

type ServerConfig struct {
	MaxBandwidth       *uint32
	WelcomeText        *string
	AllowHtml          *bool
	MessageLength      *uint32
	ImageMessageLength *uint32
	MaxUsers           *uint32
}

func (m *ServerConfig) Marshal() ([]byte, error) {
	var b []byte
	b = appendUint32(b, 1, m.MaxBandwidth)
	b = appendString(b, 2, m.WelcomeText)
	b = appendBool(b, 3, m.AllowHtml)
	b = appendUint32(b, 4, m.MessageLength)
	b = appendUint32(b, 5, m.ImageMessageLength)
	b = appendUint32(b, 6, m.MaxUsers)
	return b, nil
}

func (m *ServerConfig) Unmarshal(data []byte) error {
	return decodeFields(data, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			x := takeVarintUint32(v)
			m.MaxBandwidth = &x
		case 2:
			x := takeBytesString(v)
			m.WelcomeText = &x
		case 3:
			x := takeVarintBool(v)
			m.AllowHtml = &x
		case 4:
			x := takeVarintUint32(v)
			m.MessageLength = &x
		case 5:
			x := takeVarintUint32(v)
			m.ImageMessageLength = &x
		case 6:
			x := takeVarintUint32(v)
			m.MaxUsers = &x
		}
		return nil
	})
}

// ---- SuggestConfig ----

type SuggestConfig struct {
	Version    *uint32
	Positional *bool
	PushToTalk *bool
}

func (m *SuggestConfig) Marshal() ([]byte, error) {
	var b []byte
	b = appendUint32(b, 1, m.Version)
	b = appendBool(b, 2, m.Positional)
	b = appendBool(b, 3, m.PushToTalk)
	return b, nil
}

func (m *SuggestConfig) Unmarshal(data []byte) error {
	return decodeFields(data, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			x := takeVarintUint32(v)
			m.Version = &x
		case 2:
			x := takeVarintBool(v)
			m.Positional = &x
		case 3:
			x := takeVarintBool(v)
			m.PushToTalk = &x
		}
		return nil
	})
}

// ---- PluginDataTransmission ----

type PluginDataTransmission struct {
	SenderSession    *uint32
	ReceiverSessions []uint32
	Data             []byte
	DataID           *string
}

func (m *PluginDataTransmission) Marshal() ([]byte, error) {
	var b []byte
	b = appendUint32(b, 1, m.SenderSession)
	b = appendRepeatedUint32(b, 2, m.ReceiverSessions)
	b = appendBytes(b, 3, m.Data)
	b = appendString(b, 4, m.DataID)
	return b, nil
}

func (m *PluginDataTransmission) Unmarshal(data []byte) error {
	return decodeFields(data, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			x := takeVarintUint32(v)
			m.SenderSession = &x
		case 2:
			m.ReceiverSessions = append(m.ReceiverSessions, takeVarintUint32(v))
		case 3:
			m.Data = append([]byte(nil), v...)
		case 4:
			x := takeBytesString(v)
			m.DataID = &x
		}
		return nil
	})
}
