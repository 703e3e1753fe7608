package portal

import (
	"fmt"
	"math/rand"
	"strings"
)

// Some portals require a named third party "requesting" the document (the
// institution a tax folder is addressed to, for example). A synthetic
// requester keeps those forms from being linked to the service itself.

var firstNames = []string{
	"Andrea", "Camila", "Carolina", "Cristian", "Daniela", "Diego",
	"Felipe", "Fernanda", "Francisca", "Ignacio", "Javiera", "Jorge",
	"Marcela", "Matias", "Nicolas", "Paula", "Rodrigo", "Sebastian",
	"Valentina", "Vicente",
}

var lastNames = []string{
	"Araya", "Castillo", "Contreras", "Diaz", "Espinoza", "Flores",
	"Fuentes", "Gonzalez", "Gutierrez", "Hernandez", "Lopez", "Martinez",
	"Morales", "Munoz", "Perez", "Rojas", "Sepulveda", "Silva",
	"Soto", "Torres",
}

var institutions = []string{
	"Inmobiliaria Los Castanos", "Comercial Andes Sur",
	"Inversiones Del Valle", "Servicios Integrales Pacifico",
	"Constructora Cordillera", "Asesorias Del Maule",
}

var mailDomains = []string{"gmail.com", "outlook.com", "yahoo.com"}

// person is a synthetic requester identity used to fill third-party fields.
type person struct {
	Name  string
	Email string
}

func randomPerson() person {
	first := firstNames[rand.Intn(len(firstNames))]
	last := lastNames[rand.Intn(len(lastNames))]
	domain := mailDomains[rand.Intn(len(mailDomains))]
	email := fmt.Sprintf("%s.%s%d@%s",
		strings.ToLower(first), strings.ToLower(last), rand.Intn(900)+100, domain)
	return person{Name: first + " " + last, Email: email}
}

func randomInstitution() string {
	return institutions[rand.Intn(len(institutions))]
}
