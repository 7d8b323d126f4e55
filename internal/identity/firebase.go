package identity

import (
	"context"
	"strings"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"github.com/go-faster/errors"
	"google.golang.org/api/option"
)

// FirebaseVerifier checks Firebase ID tokens.
type FirebaseVerifier struct {
	client *auth.Client
}

// NewFirebaseVerifier initializes a Firebase app for projectID. An empty
// credentialsFile uses Application Default Credentials.
func NewFirebaseVerifier(ctx context.Context, projectID, credentialsFile string) (*FirebaseVerifier, error) {
	var opts []option.ClientOption
	if strings.TrimSpace(credentialsFile) != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	fbApp, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "init firebase app")
	}
	client, err := fbApp.Auth(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "init firebase auth")
	}
	return &FirebaseVerifier{client: client}, nil
}

// Verify validates an ID token and maps its claims to a User.
func (v *FirebaseVerifier) Verify(ctx context.Context, token string) (User, error) {
	tok, err := v.client.VerifyIDToken(ctx, token)
	if err != nil {
		return User{}, errors.Wrapf(ErrInvalidToken, "verify id token: %v", err)
	}
	uid := strings.TrimSpace(tok.UID)
	if uid == "" {
		return User{}, ErrInvalidToken
	}
	return User{
		ID:          uid,
		Email:       claim(tok.Claims, "email"),
		DisplayName: claim(tok.Claims, "name"),
	}, nil
}

func claim(claims map[string]any, key string) string {
	s, _ := claims[key].(string)
	return strings.TrimSpace(s)
}
