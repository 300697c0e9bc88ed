package booking

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cityhospital/appointment-bot/internal/appointments"
)

func seed(t *testing.T, repo *appointments.InMemoryRepository, phone, doctorID, doctorName, date, clock string) *appointments.Appointment {
	t.Helper()
	appt, err := repo.Create(context.Background(), &appointments.Appointment{
		PatientPhone: phone,
		DoctorID:     doctorID,
		DoctorName:   doctorName,
		Date:         date,
		Time:         clock,
	})
	require.NoError(t, err)
	return appt
}

func TestValidateTimeClashNamesOtherDoctor(t *testing.T) {
	repo := appointments.NewInMemoryRepository()
	seed(t, repo, "P", "dr_001", "Dr. A", "2025-01-10", "10:00")
	v := NewValidator(repo)

	d, err := v.Validate(context.Background(), Request{PatientPhone: "P", DoctorID: "dr_002", Date: "2025-01-10", Time: "10:00"})
	require.NoError(t, err)
	assert.False(t, d.Accepted)
	assert.Equal(t, CodeTimeClash, d.Code)
	assert.Contains(t, d.Message(), "Dr. A")
	assert.Contains(t, d.Message(), "10 January 2025 at 10:00 AM")

	other, err := v.Validate(context.Background(), Request{PatientPhone: "Q", DoctorID: "dr_002", Date: "2025-01-10", Time: "10:00"})
	require.NoError(t, err)
	assert.True(t, other.Accepted)
}

func TestValidateSameDoctorDayWinsOverClash(t *testing.T) {
	repo := appointments.NewInMemoryRepository()
	seed(t, repo, "P", "dr_001", "Dr. A", "2025-01-10", "10:00")
	v := NewValidator(repo)

	d, err := v.Validate(context.Background(), Request{PatientPhone: "P", DoctorID: "dr_001", Date: "2025-01-10", Time: "10:00"})
	require.NoError(t, err)
	assert.Equal(t, CodeSameDoctorDay, d.Code)

	d, err = v.Validate(context.Background(), Request{PatientPhone: "P", DoctorID: "dr_001", Date: "2025-01-10", Time: "15:00"})
	require.NoError(t, err)
	assert.Equal(t, CodeSameDoctorDay, d.Code)
	assert.Contains(t, d.Message(), "one appointment per doctor per day")

	d, err = v.Validate(context.Background(), Request{PatientPhone: "P", DoctorID: "dr_001", Date: "2025-01-11", Time: "10:00"})
	require.NoError(t, err)
	assert.True(t, d.Accepted)
	assert.Empty(t, d.Message())
}

func TestValidateExcludesReplacedAppointment(t *testing.T) {
	repo := appointments.NewInMemoryRepository()
	old := seed(t, repo, "P", "dr_001", "Dr. A", "2025-01-10", "10:00")
	v := NewValidator(repo)

	d, err := v.Validate(context.Background(), Request{PatientPhone: "P", DoctorID: "dr_001", Date: "2025-01-10", Time: "11:00", ExcludeID: old.ID})
	require.NoError(t, err)
	assert.True(t, d.Accepted)
}

func TestValidateIgnoresCancelled(t *testing.T) {
	repo := appointments.NewInMemoryRepository()
	appt := seed(t, repo, "P", "dr_001", "Dr. A", "2025-01-10", "10:00")
	_, err := repo.Cancel(context.Background(), appt.ID)
	require.NoError(t, err)

	d, err := NewValidator(repo).Validate(context.Background(), Request{PatientPhone: "P", DoctorID: "dr_001", Date: "2025-01-10", Time: "10:00"})
	require.NoError(t, err)
	assert.True(t, d.Accepted)
}

type failingRepo struct{}

func (failingRepo) ListActiveByPatient(context.Context, string) ([]appointments.Appointment, error) {
	return nil, errors.New("db down")
}

func TestValidateRepositoryError(t *testing.T) {
	_, err := NewValidator(failingRepo{}).Validate(context.Background(), Request{PatientPhone: "P"})
	require.Error(t, err)
}
