package repositories

import (
	"fmt"
	"time"

	"session-chat/domain/chat"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the stored records. Records are protobuf encoded so
// fields can be added without rewriting existing data.
const (
	messageFieldID protowire.Number = iota + 1
	messageFieldRoom
	messageFieldAuthorID
	messageFieldAuthorName
	messageFieldContent
	messageFieldTag
	messageFieldCreatedAt
)

const (
	userFieldID protowire.Number = iota + 1
	userFieldUsername
	userFieldEmail
	userFieldDisplayName
	userFieldPasswordHash
	userFieldCreatedAt
)

func encodeMessage(m chat.Message) []byte {
	var b []byte
	b = appendVarint(b, messageFieldID, uint64(m.ID))
	b = appendVarint(b, messageFieldRoom, uint64(m.Room))
	b = appendString(b, messageFieldAuthorID, m.Author.ID)
	b = appendString(b, messageFieldAuthorName, m.Author.DisplayName)
	b = appendString(b, messageFieldContent, m.Content)
	b = appendString(b, messageFieldTag, string(m.Tag))
	b = appendVarint(b, messageFieldCreatedAt, uint64(m.CreatedAt.UnixMicro()))
	return b
}

// DecodeMessage reads a stored message value.
func DecodeMessage(b []byte) (chat.Message, error) {
	var m chat.Message
	err := decodeFields(b, func(num protowire.Number, varint uint64, str string) {
		switch num {
		case messageFieldID:
			m.ID = int64(varint)
		case messageFieldRoom:
			m.Room = chat.RoomID(varint)
		case messageFieldAuthorID:
			m.Author.ID = str
		case messageFieldAuthorName:
			m.Author.DisplayName = str
		case messageFieldContent:
			m.Content = str
		case messageFieldTag:
			m.Tag = chat.Tag(str)
		case messageFieldCreatedAt:
			m.CreatedAt = time.UnixMicro(int64(varint)).UTC()
		}
	})
	if err != nil {
		return chat.Message{}, fmt.Errorf("decoding message: %w", err)
	}
	return m, nil
}

func encodeUser(u User) []byte {
	var b []byte
	b = appendString(b, userFieldID, u.ID)
	b = appendString(b, userFieldUsername, u.Username)
	b = appendString(b, userFieldEmail, u.Email)
	b = appendString(b, userFieldDisplayName, u.DisplayName)
	b = appendString(b, userFieldPasswordHash, u.PasswordHash)
	b = appendVarint(b, userFieldCreatedAt, uint64(u.CreatedAt.Unix()))
	return b
}

func decodeUser(b []byte) (User, error) {
	var u User
	err := decodeFields(b, func(num protowire.Number, varint uint64, str string) {
		switch num {
		case userFieldID:
			u.ID = str
		case userFieldUsername:
			u.Username = str
		case userFieldEmail:
			u.Email = str
		case userFieldDisplayName:
			u.DisplayName = str
		case userFieldPasswordHash:
			u.PasswordHash = str
		case userFieldCreatedAt:
			u.CreatedAt = time.Unix(int64(varint), 0).UTC()
		}
	})
	if err != nil {
		return User{}, fmt.Errorf("decoding user: %w", err)
	}
	return u, nil
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

// decodeFields walks a record and hands varint and bytes fields to set.
// Unknown fields are skipped.
func decodeFields(b []byte, set func(num protowire.Number, varint uint64, str string)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			set(num, v, "")
			b = b[n:]
		case protowire.BytesType:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			set(num, 0, s)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return nil
}
