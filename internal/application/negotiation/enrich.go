package negotiation

import (
	"context"

	"github.com/google/uuid"

	"github.com/agrimarket/bargaining-hub/internal/domain/negotiation"
)

// Enrich fills display names and listing metadata with one batched lookup
// per kind. Lookup failures and unknown ids degrade to the placeholder.
func (s *Service) Enrich(ctx context.Context, list ...*negotiation.Negotiation) {
	if len(list) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, enrichTimeout)
	defer cancel()

	var people, crops []uuid.UUID
	seenPeople := make(map[uuid.UUID]struct{})
	seenCrops := make(map[uuid.UUID]struct{})
	for _, n := range list {
		for _, id := range []uuid.UUID{n.BuyerID, n.FarmerID} {
			if _, ok := seenPeople[id]; !ok {
				seenPeople[id] = struct{}{}
				people = append(people, id)
			}
		}
		if n.CropID != nil {
			if _, ok := seenCrops[*n.CropID]; !ok {
				seenCrops[*n.CropID] = struct{}{}
				crops = append(crops, *n.CropID)
			}
		}
	}

	names := s.lookupNames(ctx, people)
	listings := s.lookupListings(ctx, crops)

	nameFallbacks, listingFallbacks := 0, 0
	for _, n := range list {
		n.BuyerName, n.FarmerName = names[n.BuyerID], names[n.FarmerID]
		if n.BuyerName == "" {
			n.BuyerName = s.placeholder
			nameFallbacks++
		}
		if n.FarmerName == "" {
			n.FarmerName = s.placeholder
			nameFallbacks++
		}
		if n.CropID == nil {
			continue
		}
		if l, ok := listings[*n.CropID]; ok && l != nil {
			c := *l
			n.Listing = &c
			continue
		}
		n.Listing = &negotiation.Listing{ID: *n.CropID, Name: s.placeholder}
		listingFallbacks++
	}
	s.metrics.EnrichmentFallback(ctx, "profile", nameFallbacks)
	s.metrics.EnrichmentFallback(ctx, "listing", listingFallbacks)
}

func (s *Service) lookupNames(ctx context.Context, ids []uuid.UUID) map[uuid.UUID]string {
	if s.profiles == nil || len(ids) == 0 {
		return nil
	}
	names, err := s.profiles.DisplayNames(ctx, ids)
	if err != nil {
		s.logger.Warn().Err(err).Int("ids", len(ids)).Msg("profile lookup failed, using placeholder")
		return nil
	}
	return names
}

func (s *Service) lookupListings(ctx context.Context, ids []uuid.UUID) map[uuid.UUID]*negotiation.Listing {
	if s.listings == nil || len(ids) == 0 {
		return nil
	}
	listings, err := s.listings.Listings(ctx, ids)
	if err != nil {
		s.logger.Warn().Err(err).Int("ids", len(ids)).Msg("listing lookup failed, using placeholder")
		return nil
	}
	return listings
}
