// Package mocks provides gomock implementations of the core repository ports.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	repo := mocks.NewMockJobRepository(ctrl)
//	repo.EXPECT().Create(gomock.Any(), gomock.Any()).Return(job, nil)
package mocks

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=job_repository_mock.go github.com/target/mmk-pageshot/internal/core JobRepository

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=reaper_repository_mock.go github.com/target/mmk-pageshot/internal/core ReaperRepository
