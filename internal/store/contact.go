package store

import (
	"context"
	"fmt"
)

const sqlGetEligibleContactsByLists = `
SELECT DISTINCT c.id, c.user_id, c.name, c.phone_number, c.is_valid, c.is_whatsapp, c.created_at, c.updated_at
FROM contacts c
JOIN list_contacts lc ON lc.contact_id = c.id
WHERE lc.list_id = ANY($1::uuid[]) AND c.is_valid = true AND c.is_whatsapp = true
ORDER BY c.created_at, c.id
`

const sqlGetEligibleContactsByIDs = `
SELECT id, user_id, name, phone_number, is_valid, is_whatsapp, created_at, updated_at
FROM contacts
WHERE id = ANY($1::uuid[]) AND is_valid = true AND is_whatsapp = true
ORDER BY created_at, id
`

// GetEligibleContacts resolves a target specification into the ordered set of
// contacts that are both valid and reachable on WhatsApp. A contact appearing
// in several referenced lists resolves once; the order is stable across
// identical invocations so a campaign run iterates deterministically.
func (s *Store) GetEligibleContacts(ctx context.Context, targetType string, targetIDs UUIDArray) ([]Contact, error) {
	var (
		contacts []Contact
		err      error
	)
	switch targetType {
	case TargetTypeList:
		err = s.db.SelectContext(ctx, &contacts, sqlGetEligibleContactsByLists, targetIDs)
	case TargetTypeIndividual:
		err = s.db.SelectContext(ctx, &contacts, sqlGetEligibleContactsByIDs, targetIDs)
	default:
		return nil, fmt.Errorf("unknown target type %q", targetType)
	}
	if err != nil {
		s.logger.Error(ctx, "failed to get eligible contacts", err)
		return nil, fmt.Errorf("failed to get eligible contacts: %w", err)
	}
	return contacts, nil
}

const sqlCountEligibleContactsByLists = `
SELECT COUNT(DISTINCT c.id)
FROM contacts c
JOIN list_contacts lc ON lc.contact_id = c.id
WHERE lc.list_id = ANY($1::uuid[]) AND c.is_valid = true AND c.is_whatsapp = true
`

const sqlCountEligibleContactsByIDs = `
SELECT COUNT(*)
FROM contacts
WHERE id = ANY($1::uuid[]) AND is_valid = true AND is_whatsapp = true
`

// CountEligibleContacts computes the total target count recorded at campaign
// creation time.
func (s *Store) CountEligibleContacts(ctx context.Context, targetType string, targetIDs UUIDArray) (int, error) {
	var (
		count int
		err   error
	)
	switch targetType {
	case TargetTypeList:
		err = s.db.GetContext(ctx, &count, sqlCountEligibleContactsByLists, targetIDs)
	case TargetTypeIndividual:
		err = s.db.GetContext(ctx, &count, sqlCountEligibleContactsByIDs, targetIDs)
	default:
		return 0, fmt.Errorf("unknown target type %q", targetType)
	}
	if err != nil {
		s.logger.Error(ctx, "failed to count eligible contacts", err)
		return 0, fmt.Errorf("failed to count eligible contacts: %w", err)
	}
	return count, nil
}
