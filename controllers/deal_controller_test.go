package controller_test

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipelinecrm/models"
)

func TestCreateDealAppendsToColumn(t *testing.T) {
	f := newAPIFixture(t)
	company := f.seedCompany(t, "Acme", "acme.test")

	resp := f.request(t, "POST", "/api/v1/deals/", map[string]interface{}{
		"company_id":   company.ID,
		"title":        "First deal",
		"amount_cents": 250000,
	})
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
	body := decodeBody(t, resp)
	// Stage defaults to lead, first card sits at position 0
	assert.Equal(t, models.DealStageLead, body["stage"])
	assert.Equal(t, float64(0), body["position"])

	resp = f.request(t, "POST", "/api/v1/deals/", map[string]interface{}{
		"company_id": company.ID,
		"title":      "Second deal",
		"stage":      models.DealStageLead,
	})
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
	assert.Equal(t, float64(1), decodeBody(t, resp)["position"])

	// A different column starts from position 0 again
	resp = f.request(t, "POST", "/api/v1/deals/", map[string]interface{}{
		"company_id": company.ID,
		"title":      "Proposal deal",
		"stage":      models.DealStageProposal,
	})
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
	assert.Equal(t, float64(0), decodeBody(t, resp)["position"])
}

func TestCreateDealValidation(t *testing.T) {
	f := newAPIFixture(t)
	company := f.seedCompany(t, "Acme", "acme.test")

	// Unknown stage
	resp := f.request(t, "POST", "/api/v1/deals/", map[string]interface{}{
		"company_id": company.ID,
		"title":      "Deal",
		"stage":      "negotiating",
	})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	// Company from another tenant does not exist for this caller
	resp = f.request(t, "POST", "/api/v1/deals/", map[string]interface{}{
		"company_id": 9999,
		"title":      "Deal",
	})
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestDealBoardGroupsByStage(t *testing.T) {
	f := newAPIFixture(t)
	company := f.seedCompany(t, "Acme", "acme.test")

	for _, stage := range []string{models.DealStageLead, models.DealStageLead, models.DealStageWon} {
		require.NoError(t, f.db.Create(&models.Deal{
			OrganizationID: f.org.ID,
			CompanyID:      company.ID,
			Title:          "Deal in " + stage,
			Stage:          stage,
		}).Error)
	}

	resp := f.request(t, "GET", "/api/v1/deals/", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var board map[string][]map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&board))
	assert.Len(t, board[models.DealStageLead], 2)
	assert.Len(t, board[models.DealStageWon], 1)
	// Empty columns are present, not missing
	assert.NotNil(t, board[models.DealStageLost])
	assert.Empty(t, board[models.DealStageLost])
}

func TestMoveDealStage(t *testing.T) {
	f := newAPIFixture(t)
	company := f.seedCompany(t, "Acme", "acme.test")

	deal := models.Deal{
		OrganizationID: f.org.ID,
		CompanyID:      company.ID,
		Title:          "Deal",
		Stage:          models.DealStageLead,
	}
	require.NoError(t, f.db.Create(&deal).Error)

	resp := f.request(t, "PUT", fmt.Sprintf("/api/v1/deals/%d/stage", deal.ID), map[string]interface{}{
		"stage":    models.DealStageWon,
		"position": 0,
	})
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, models.DealStageWon, decodeBody(t, resp)["stage"])

	var fresh models.Deal
	require.NoError(t, f.db.First(&fresh, deal.ID).Error)
	assert.Equal(t, models.DealStageWon, fresh.Stage)
}

func TestDeleteDeal(t *testing.T) {
	f := newAPIFixture(t)
	company := f.seedCompany(t, "Acme", "acme.test")

	deal := models.Deal{
		OrganizationID: f.org.ID,
		CompanyID:      company.ID,
		Title:          "Deal",
		Stage:          models.DealStageLead,
	}
	require.NoError(t, f.db.Create(&deal).Error)

	resp := f.request(t, "DELETE", fmt.Sprintf("/api/v1/deals/%d", deal.ID), nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp = f.request(t, "DELETE", fmt.Sprintf("/api/v1/deals/%d", deal.ID), nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}
